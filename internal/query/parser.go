package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser parses a sequence of recipe statements, grounded directly in the
// teacher's internal/query Parser shape (single lookahead token, advance/
// expect helpers, recursive-descent expression parsing by precedence).
type Parser struct {
	lexer   *Lexer
	current Token
}

// NewParser constructs a Parser over src.
func NewParser(src string) *Parser {
	return &Parser{lexer: NewLexer(src)}
}

func (p *Parser) advance() error {
	tok, err := p.lexer.Next()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

func (p *Parser) kw(s string) bool {
	return p.current.Type == TokenIdent && strings.EqualFold(p.current.Text, s)
}

func (p *Parser) expectKw(s string) error {
	if !p.kw(s) {
		return fmt.Errorf("query: expected %q, got %q at %d", s, p.current.Text, p.current.Pos)
	}
	return p.advance()
}

func (p *Parser) expect(t TokenType) (Token, error) {
	if p.current.Type != t {
		return Token{}, fmt.Errorf("query: expected %s, got %q at %d", t, p.current.Text, p.current.Pos)
	}
	tok := p.current
	return tok, p.advance()
}

// ParseStatements parses every statement in src, separated by ';'.
func ParseStatements(src string) ([]Statement, error) {
	p := NewParser(src)
	if err := p.advance(); err != nil {
		return nil, err
	}
	var stmts []Statement
	for p.current.Type != TokenEOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		for p.current.Type == TokenSemicolon {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return stmts, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.kw("CREATE"):
		return p.parseCreateTable()
	case p.kw("QUERY"):
		return p.parseNamedQuery()
	default:
		return nil, fmt.Errorf("query: expected CREATE or QUERY at %d, got %q", p.current.Pos, p.current.Text)
	}
}

func (p *Parser) parseCreateTable() (*CreateTable, error) {
	if err := p.expectKw("CREATE"); err != nil {
		return nil, err
	}
	if err := p.expectKw("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	ct := &CreateTable{Name: name.Text}
	for {
		colName, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		typeName, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		col := ColumnDef{Name: colName.Text, Type: strings.ToLower(typeName.Text)}
		if p.kw("PRIMARY") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKw("KEY"); err != nil {
				return nil, err
			}
			col.PrimaryKey = true
		} else if p.kw("PK") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			col.PrimaryKey = true
		}
		ct.Columns = append(ct.Columns, col)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return ct, nil
}

func (p *Parser) parseNamedQuery() (*NamedQuery, error) {
	if err := p.expectKw("QUERY"); err != nil {
		return nil, err
	}
	name, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if p.current.Type == TokenColon {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	return &NamedQuery{Name: name.Text, Select: sel}, nil
}

func (p *Parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKw("SELECT"); err != nil {
		return nil, err
	}
	sel := &SelectStmt{}
	if p.kw("DISTINCT") {
		sel.Distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	cols, err := p.parseSelectColumns()
	if err != nil {
		return nil, err
	}
	sel.Columns = cols

	if err := p.expectKw("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	sel.From = from

	for p.kw("JOIN") || p.kw("LEFT") || p.kw("INNER") {
		jc, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, jc)
	}

	if p.kw("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		sel.Where = where
	}

	if p.kw("GROUP") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		for {
			id, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, id.Text)
			if p.current.Type == TokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if p.kw("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		for {
			id, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			term := OrderTerm{Column: id.Text}
			if p.kw("DESC") {
				term.Desc = true
				if err := p.advance(); err != nil {
					return nil, err
				}
			} else if p.kw("ASC") {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			sel.OrderBy = append(sel.OrderBy, term)
			if p.current.Type == TokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if p.kw("LIMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expect(TokenNumber)
		if err != nil {
			return nil, err
		}
		sel.Limit, _ = strconv.Atoi(n.Text)
		if p.kw("OFFSET") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			m, err := p.expect(TokenNumber)
			if err != nil {
				return nil, err
			}
			sel.Offset, _ = strconv.Atoi(m.Text)
		}
	}

	if p.kw("UNION") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		all := false
		if p.kw("ALL") {
			all = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		next, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		sel.UnionWith = next
		sel.UnionAll = all
	}

	return sel, nil
}

func (p *Parser) parseSelectColumns() ([]SelectColumn, error) {
	var cols []SelectColumn
	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return cols, nil
}

func (p *Parser) parseSelectColumn() (SelectColumn, error) {
	if p.current.Type == TokenStar {
		if err := p.advance(); err != nil {
			return SelectColumn{}, err
		}
		return SelectColumn{Star: true}, nil
	}

	if isAggKeyword(p.current.Text) && p.current.Type == TokenIdent {
		fn := strings.ToUpper(p.current.Text)
		if err := p.advance(); err != nil {
			return SelectColumn{}, err
		}
		if _, err := p.expect(TokenLParen); err != nil {
			return SelectColumn{}, err
		}
		agg := &AggCall{Func: fn}
		if p.current.Type == TokenStar {
			agg.Star = true
			if err := p.advance(); err != nil {
				return SelectColumn{}, err
			}
		} else {
			id, err := p.expect(TokenIdent)
			if err != nil {
				return SelectColumn{}, err
			}
			agg.Column = id.Text
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return SelectColumn{}, err
		}
		sc := SelectColumn{Agg: agg}
		if p.kw("AS") {
			if err := p.advance(); err != nil {
				return SelectColumn{}, err
			}
			alias, err := p.expect(TokenIdent)
			if err != nil {
				return SelectColumn{}, err
			}
			sc.Alias = alias.Text
		}
		return sc, nil
	}

	first, err := p.expect(TokenIdent)
	if err != nil {
		return SelectColumn{}, err
	}
	if p.current.Type == TokenDot {
		if err := p.advance(); err != nil {
			return SelectColumn{}, err
		}
		if p.current.Type == TokenStar {
			if err := p.advance(); err != nil {
				return SelectColumn{}, err
			}
			return SelectColumn{TableStar: first.Text}, nil
		}
		col, err := p.expect(TokenIdent)
		if err != nil {
			return SelectColumn{}, err
		}
		sc := SelectColumn{Table: first.Text, Column: col.Text}
		if p.kw("AS") {
			if err := p.advance(); err != nil {
				return SelectColumn{}, err
			}
			alias, err := p.expect(TokenIdent)
			if err != nil {
				return SelectColumn{}, err
			}
			sc.Alias = alias.Text
		}
		return sc, nil
	}
	sc := SelectColumn{Column: first.Text}
	if p.kw("AS") {
		if err := p.advance(); err != nil {
			return SelectColumn{}, err
		}
		alias, err := p.expect(TokenIdent)
		if err != nil {
			return SelectColumn{}, err
		}
		sc.Alias = alias.Text
	}
	return sc, nil
}

func isAggKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "SUM", "COUNT", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

func (p *Parser) parseTableRef() (TableRef, error) {
	if p.current.Type == TokenLParen {
		if err := p.advance(); err != nil {
			return TableRef{}, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return TableRef{}, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return TableRef{}, err
		}
		ref := TableRef{Sub: sub}
		if p.kw("AS") {
			if err := p.advance(); err != nil {
				return TableRef{}, err
			}
		}
		if p.current.Type == TokenIdent {
			alias, err := p.expect(TokenIdent)
			if err != nil {
				return TableRef{}, err
			}
			ref.Alias = alias.Text
		}
		return ref, nil
	}
	name, err := p.expect(TokenIdent)
	if err != nil {
		return TableRef{}, err
	}
	ref := TableRef{Name: name.Text}
	if p.kw("AS") {
		if err := p.advance(); err != nil {
			return TableRef{}, err
		}
		alias, err := p.expect(TokenIdent)
		if err != nil {
			return TableRef{}, err
		}
		ref.Alias = alias.Text
	} else if p.current.Type == TokenIdent && !p.kw("JOIN") && !p.kw("LEFT") && !p.kw("INNER") &&
		!p.kw("WHERE") && !p.kw("GROUP") && !p.kw("ORDER") && !p.kw("LIMIT") && !p.kw("UNION") &&
		!p.kw("ON") && !p.kw("USING") {
		alias, err := p.expect(TokenIdent)
		if err != nil {
			return TableRef{}, err
		}
		ref.Alias = alias.Text
	}
	return ref, nil
}

func (p *Parser) parseJoin() (JoinClause, error) {
	kind := JoinInner
	if p.kw("LEFT") {
		kind = JoinLeft
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	} else if p.kw("INNER") {
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	}
	if err := p.expectKw("JOIN"); err != nil {
		return JoinClause{}, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return JoinClause{}, err
	}
	jc := JoinClause{Kind: kind, Table: table}
	if p.kw("ON") {
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
		left, err := p.parseColumnRef()
		if err != nil {
			return JoinClause{}, err
		}
		if _, err := p.expect(TokenEq); err != nil {
			return JoinClause{}, err
		}
		right, err := p.parseColumnRef()
		if err != nil {
			return JoinClause{}, err
		}
		jc.On = &BinaryExpr{Op: "=", Left: left, Right: right}
	} else if p.kw("USING") {
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
		if _, err := p.expect(TokenLParen); err != nil {
			return JoinClause{}, err
		}
		col, err := p.expect(TokenIdent)
		if err != nil {
			return JoinClause{}, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return JoinClause{}, err
		}
		jc.On = &BinaryExpr{Op: "using", Left: &ColumnRef{Column: col.Text}, Right: &ColumnRef{Column: col.Text}}
	}
	return jc, nil
}

func (p *Parser) parseColumnRef() (*ColumnRef, error) {
	first, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if p.current.Type == TokenDot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		col, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: first.Text, Column: col.Text}, nil
	}
	return &ColumnRef{Column: first.Text}, nil
}

// parseOr / parseAnd / parseNot / parseComparison implement standard
// boolean-operator precedence climbing, in the same shape as the teacher's
// parseOr/parseAnd/parseNot chain.
func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.kw("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.kw("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.kw("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	if p.current.Type == TokenLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}

	col, err := p.parseColumnRef()
	if err != nil {
		return nil, err
	}

	if p.kw("BETWEEN") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		lo, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Column: col.Column, Lo: lo, Hi: hi}, nil
	}

	if p.kw("LIKE") || p.kw("ILIKE") {
		ci := p.kw("ILIKE")
		if err := p.advance(); err != nil {
			return nil, err
		}
		lit, err := p.expect(TokenString)
		if err != nil {
			return nil, err
		}
		return &LikeExpr{Column: col.Column, Pattern: lit.Text, CaseInsensitive: ci}, nil
	}

	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	right, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, Left: col, Right: right}, nil
}

func (p *Parser) parseCompareOp() (string, error) {
	switch p.current.Type {
	case TokenEq, TokenNeq, TokenLt, TokenLte, TokenGt, TokenGte:
		op := p.current.Type.String()
		return op, p.advance()
	default:
		return "", fmt.Errorf("query: expected comparison operator at %d, got %q", p.current.Pos, p.current.Text)
	}
}

func (p *Parser) parseLiteral() (Expr, error) {
	switch p.current.Type {
	case TokenString:
		lit := &Literal{Str: p.current.Text}
		return lit, p.advance()
	case TokenNumber:
		f, _ := strconv.ParseFloat(p.current.Text, 64)
		lit := &Literal{IsNum: true, Num: f}
		return lit, p.advance()
	case TokenIdent:
		if strings.EqualFold(p.current.Text, "NULL") {
			lit := &Literal{IsNull: true}
			return lit, p.advance()
		}
		lit := &Literal{Str: p.current.Text}
		return lit, p.advance()
	default:
		return nil, fmt.Errorf("query: expected literal at %d, got %q", p.current.Pos, p.current.Text)
	}
}
