package persist

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/fluxcache/fluxcache/internal/value"
)

// wireValue is the gob-safe mirror of value.Value (value.Value is not
// itself gob-registered since internal/value has no persistence concerns of
// its own; the codec lives here, next to the only component that needs on-
// disk encoding).
type wireValue struct {
	Kind uint8
	I    int64
	U    uint64
	F    float64
	Dec  string
	S    string
	Time time.Time
}

// EncodeRecord serializes a positive row's columns into the bytes stored in
// the primary column family (§6 "the primary index holds serialized rows").
// Polarity is not encoded: only positive rows are ever persisted, since a
// base table's durable state is the current row set, not its delta history.
func EncodeRecord(cols []value.Value) ([]byte, error) {
	wire := make([]wireValue, len(cols))
	for i, c := range cols {
		wire[i] = wireValue{Kind: uint8(c.Kind), I: c.I, U: c.U, F: c.F, Dec: c.Dec, S: c.S, Time: c.Time}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("persist: encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRecord reverses EncodeRecord, used when reconstituting rows during a
// full replay from the persisted base state (§4.7 step 6).
func DecodeRecord(b []byte) ([]value.Value, error) {
	var wire []wireValue
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("persist: decode record: %w", err)
	}
	cols := make([]value.Value, len(wire))
	for i, w := range wire {
		cols[i] = value.Value{Kind: value.Kind(w.Kind), I: w.I, U: w.U, F: w.F, Dec: w.Dec, S: w.S, Time: w.Time}
	}
	return cols, nil
}

// KeyBytes encodes a lookup/index key (a short Value tuple) into bytes
// suitable as a column-family key; it reuses EncodeRecord's wire format
// since a key is just a short row.
func KeyBytes(key []value.Value) ([]byte, error) {
	return EncodeRecord(key)
}
