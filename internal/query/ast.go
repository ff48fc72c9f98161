package query

// Statement is one top-level recipe statement: either a table definition or
// a named query (§4.7 step 1 consumes a sequence of these).
type Statement interface {
	isStatement()
}

// ColumnDef is one column of a CreateTable.
type ColumnDef struct {
	Name       string
	Type       string
	PrimaryKey bool
}

// CreateTable declares a base table (§3 "Base").
type CreateTable struct {
	Name    string
	Columns []ColumnDef
}

func (*CreateTable) isStatement() {}

// JoinKind distinguishes inner from left-outer joins in the AST.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// JoinClause is one JOIN term in a FROM clause.
type JoinClause struct {
	Kind  JoinKind
	Table TableRef
	On    *BinaryExpr // equijoin condition, a=b form
}

// TableRef names a table or a parenthesized subquery aliased with AS.
type TableRef struct {
	Name  string // table name, or "" if Sub is set
	Alias string
	Sub   *SelectStmt

	// Pushdown holds WHERE conjuncts the predicate-pushdown rewrite pass
	// determined reference only this table, to be lowered as a Filter
	// kernel ahead of any Join involving it.
	Pushdown []Expr
}

// SelectStmt is a SELECT ... FROM ... [JOIN ...] [WHERE ...] [GROUP BY ...]
// [ORDER BY ...] [LIMIT n [OFFSET m]].
type SelectStmt struct {
	Columns  []SelectColumn
	From     TableRef
	Joins    []JoinClause
	Where    Expr
	GroupBy  []string
	OrderBy  []OrderTerm
	Limit    int // 0 means unbounded
	Offset   int
	Distinct bool

	// UnionWith, when non-nil, chains a UNION [ALL] of this SelectStmt
	// with the next one (§4.2 Union).
	UnionWith *SelectStmt
	UnionAll  bool

	// IsTopK is set by the top-k normalization rewrite pass when an
	// ORDER BY + LIMIT suffix should lower to a kernel.TopK/Paginate node.
	IsTopK bool
}

// SelectColumn is one output column: either `*`, `table.*`, a bare column
// reference, or an aggregate call.
type SelectColumn struct {
	Star      bool
	TableStar string // non-empty for `table.*`
	Column    string
	Table     string
	Agg       *AggCall
	Alias     string
}

// AggCall is an aggregate function applied to a column (or * for COUNT(*)).
type AggCall struct {
	Func   string // SUM, COUNT, AVG, MIN, MAX
	Column string
	Star   bool
}

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Column string
	Desc   bool
}

// NamedQuery is a `QUERY name: <select>` statement (§4.7's query set).
type NamedQuery struct {
	Name   string
	Select *SelectStmt
}

func (*NamedQuery) isStatement() {}

// Expr is a WHERE-clause expression node.
type Expr interface {
	isExpr()
}

// BinaryExpr is a comparison or boolean-combination node (AND/OR/=/!=/</<=/>/>=).
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) isExpr() {}

// NotExpr negates its operand (NOT <expr>).
type NotExpr struct {
	Operand Expr
}

func (*NotExpr) isExpr() {}

// BetweenExpr is `col BETWEEN lo AND hi`.
type BetweenExpr struct {
	Column string
	Lo, Hi Expr
}

func (*BetweenExpr) isExpr() {}

// LikeExpr is `col LIKE pattern` or `col ILIKE pattern` (§8 scenario 3).
type LikeExpr struct {
	Column       string
	Pattern      string
	CaseInsensitive bool
}

func (*LikeExpr) isExpr() {}

// ColumnRef references a (possibly table-qualified) column.
type ColumnRef struct {
	Table  string
	Column string
}

func (*ColumnRef) isExpr() {}

// Literal is a constant value in an expression (string, number, or null).
type Literal struct {
	IsNull bool
	Str    string
	IsNum  bool
	Num    float64
}

func (*Literal) isExpr() {}
