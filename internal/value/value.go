// Package value implements the tagged-sum Value and the polarity-tagged
// Record that flow through every dataflow operator.
package value

import (
	"fmt"
	"time"
)

// Kind tags the variant stored in a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindUint
	KindFloat
	KindDecimal
	KindText
	KindBytes
	KindDate
	KindTime
	KindTimestamp
	KindInterval
	KindJSON
	KindMin // open-ended lower range bound sentinel
	KindMax // open-ended upper range bound sentinel
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindTimestamp:
		return "timestamp"
	case KindInterval:
		return "interval"
	case KindJSON:
		return "json"
	case KindMin:
		return "-inf"
	case KindMax:
		return "+inf"
	default:
		return "unknown"
	}
}

// Value is a tagged sum over the dataflow's scalar domain. Only the field
// matching Kind is meaningful; it is intentionally not an interface{} box so
// that comparisons and hashing stay allocation-free on the hot path.
type Value struct {
	Kind Kind

	I   int64
	U    uint64
	F    float64
	Dec  string // decimal kept as its canonical text form to avoid float drift
	S    string // used for text, bytes (via unsafe-free string), date/time/timestamp/interval canonical forms, json
	Time time.Time
}

// Null is the singleton null value.
var Null = Value{Kind: KindNull}

// Min and Max are the sentinel bounds used to express open-ended ranges.
var (
	Min = Value{Kind: KindMin}
	Max = Value{Kind: KindMax}
)

func Int(i int64) Value      { return Value{Kind: KindInt, I: i} }
func Uint(u uint64) Value    { return Value{Kind: KindUint, U: u} }
func Float(f float64) Value  { return Value{Kind: KindFloat, F: f} }
func Text(s string) Value    { return Value{Kind: KindText, S: s} }
func Bytes(b []byte) Value   { return Value{Kind: KindBytes, S: string(b)} }
func Decimal(s string) Value { return Value{Kind: KindDecimal, Dec: s} }
func JSON(s string) Value    { return Value{Kind: KindJSON, S: s} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindUint:
		return fmt.Sprintf("%d", v.U)
	case KindFloat:
		return fmt.Sprintf("%v", v.F)
	case KindDecimal:
		return v.Dec
	case KindText, KindBytes, KindDate, KindTime, KindInterval, KindJSON:
		return v.S
	case KindTimestamp:
		return v.Time.Format(time.RFC3339Nano)
	case KindMin:
		return "-inf"
	case KindMax:
		return "+inf"
	default:
		return "?"
	}
}

// Compare orders two Values for btree indices and top-k/order-by. Min/Max
// sentinels always compare below/above every other Kind respectively so that
// range bounds using them behave as open-ended.
func Compare(a, b Value) int {
	if a.Kind == KindMin || b.Kind == KindMax {
		if a.Kind == b.Kind {
			return 0
		}
		return -1
	}
	if a.Kind == KindMax || b.Kind == KindMin {
		if a.Kind == b.Kind {
			return 0
		}
		return 1
	}
	if a.Kind != b.Kind {
		return compareCoerced(a, b)
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindInt:
		return cmpInt64(a.I, b.I)
	case KindUint:
		return cmpUint64(a.U, b.U)
	case KindFloat:
		return cmpFloat64(a.F, b.F)
	case KindDecimal:
		if a.Dec == b.Dec {
			return 0
		}
		if a.Dec < b.Dec {
			return -1
		}
		return 1
	case KindTimestamp:
		if a.Time.Equal(b.Time) {
			return 0
		}
		if a.Time.Before(b.Time) {
			return -1
		}
		return 1
	default:
		if a.S == b.S {
			return 0
		}
		if a.S < b.S {
			return -1
		}
		return 1
	}
}

// compareCoerced implements the dialect-style numeric widening mentioned in
// the original_source dialect handling: cross-Kind numeric comparisons widen
// to float rather than erroring, matching a permissive SQL dialect.
func compareCoerced(a, b Value) int {
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		return cmpFloat64(af, bf)
	}
	// No sane coercion; order by Kind so Compare stays total.
	return cmpUint64(uint64(a.Kind), uint64(b.Kind))
}

func numeric(v Value) (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindUint:
		return float64(v.U), true
	case KindFloat:
		return v.F, true
	}
	return 0, false
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two Values are identical under Compare.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }
