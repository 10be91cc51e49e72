// Package point defines the canonical value record that flows from
// field-side adapters into the store and out to the 104 ASDU builder.
package point

import (
	"fmt"
	"sync"
	"time"
)

// AsduType names the IEC 104 type identification a Point is destined to be
// encoded as. It mirrors the TypeID constants in the root iec104 package
// without importing it, keeping this package free of wire-level concerns.
type AsduType int

const (
	// Unset falls back to MMeNc1 at encode time, per the builder's
	// documented default.
	Unset AsduType = iota
	MSpNa1
	MSpTb1
	MMeNb1
	MMeNc1
	MMeTf1
)

// Kind identifies which field of Value is populated.
type Kind int

const (
	KindBool Kind = iota
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindBytes
	KindString
)

// ErrTypeMismatch is returned by the typed accessors when the stored
// variant cannot be widened to the requested type.
type ErrTypeMismatch struct {
	Have Kind
	Want string
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("point: value of kind %d is not convertible to %s", e.Have, e.Want)
}

// Value is a tagged union over the payload kinds a Point can carry. Only
// the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	I16    int16
	I32    int32
	I64    int64
	F32    float32
	F64    float64
	Bytes  []byte
	String string
}

// BoolValue, I16Value, ... are convenience constructors for Value literals.
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func I16Value(v int16) Value     { return Value{Kind: KindI16, I16: v} }
func I32Value(v int32) Value     { return Value{Kind: KindI32, I32: v} }
func I64Value(v int64) Value     { return Value{Kind: KindI64, I64: v} }
func F32Value(v float32) Value   { return Value{Kind: KindF32, F32: v} }
func F64Value(v float64) Value   { return Value{Kind: KindF64, F64: v} }
func BytesValue(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }
func StringValue(s string) Value { return Value{Kind: KindString, String: s} }

// Point is the canonical value record. It identifies a single addressable
// 104 data point, its current value, and its provenance.
//
// Equality and hashing are defined solely over (CommonAddress, IOA): two
// Points with the same pair are the same entity regardless of any other
// field, matching the identity semantics required by the point store.
type Point struct {
	mu sync.Mutex

	ID             string
	SourceProtocol string
	SourceAddress  string

	IOA           uint32
	CommonAddress uint16
	AsduType      AsduType

	value       Value
	Valid       bool
	Timestamp   int64 // source event time, ms since Unix epoch UTC; 0 = none
	lastUpdated int64 // gateway-local wall clock ms

	Metadata    map[string]string
	Description string
}

// New constructs a Point with the addressing, value, timestamp and validity
// fixed at call time. LastUpdated is stamped to now.
func New(ca uint16, ioa uint32, asduType AsduType, v Value, valid bool, timestamp int64) *Point {
	return &Point{
		CommonAddress: ca,
		IOA:           ioa,
		AsduType:      asduType,
		value:         v,
		Valid:         valid,
		Timestamp:     timestamp,
		lastUpdated:   nowMillis(),
	}
}

// NewDefault constructs a Point with Valid=true and LastUpdated=now; all
// other fields take their zero value and should be filled in by the
// caller before the point is published to the store.
func NewDefault(ca uint16, ioa uint32) *Point {
	return &Point{
		CommonAddress: ca,
		IOA:           ioa,
		Valid:         true,
		lastUpdated:   nowMillis(),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Key returns the (CommonAddress, IOA) pair that identifies this point.
func (p *Point) Key() (uint16, uint32) { return p.CommonAddress, p.IOA }

// Equal implements the identity semantics required of Point: equality over
// (CommonAddress, IOA) alone.
func (p *Point) Equal(other *Point) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.CommonAddress == other.CommonAddress && p.IOA == other.IOA
}

// Value returns the current payload.
func (p *Point) Value() Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// SetValue is the only mutator of the payload. It atomically refreshes
// LastUpdated alongside the value.
func (p *Point) SetValue(v Value) {
	p.mu.Lock()
	p.value = v
	p.lastUpdated = nowMillis()
	p.mu.Unlock()
}

// LastUpdated returns the gateway-local wall-clock ms of the last write.
func (p *Point) LastUpdated() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdated
}

// Clone returns a shallow copy suitable for handing to a listener or
// interrogation snapshot without exposing the original's mutex or
// allowing the caller to mutate shared state.
func (p *Point) Clone() *Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := *p
	c.mu = sync.Mutex{}
	return &c
}

// AsFloat widens the payload to a float64. Bool converts to 0/1. Bytes and
// String are not numeric and return ErrTypeMismatch.
func (p *Point) AsFloat() (float64, error) {
	v := p.Value()
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case KindI16:
		return float64(v.I16), nil
	case KindI32:
		return float64(v.I32), nil
	case KindI64:
		return float64(v.I64), nil
	case KindF32:
		return float64(v.F32), nil
	case KindF64:
		return v.F64, nil
	default:
		return 0, &ErrTypeMismatch{Have: v.Kind, Want: "float"}
	}
}

// AsBool widens the payload to a bool. Numeric variants are true iff
// non-zero. Bytes and String are not convertible.
func (p *Point) AsBool() (bool, error) {
	v := p.Value()
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindI16:
		return v.I16 != 0, nil
	case KindI32:
		return v.I32 != 0, nil
	case KindI64:
		return v.I64 != 0, nil
	case KindF32:
		return v.F32 != 0, nil
	case KindF64:
		return v.F64 != 0, nil
	default:
		return false, &ErrTypeMismatch{Have: v.Kind, Want: "bool"}
	}
}

// AsInt widens the payload to an int32. Bool converts to 0/1.
func (p *Point) AsInt() (int32, error) {
	v := p.Value()
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case KindI16:
		return int32(v.I16), nil
	case KindI32:
		return v.I32, nil
	case KindI64:
		return int32(v.I64), nil
	case KindF32:
		return int32(v.F32), nil
	case KindF64:
		return int32(v.F64), nil
	default:
		return 0, &ErrTypeMismatch{Have: v.Kind, Want: "int"}
	}
}

// AsLong widens the payload to an int64.
func (p *Point) AsLong() (int64, error) {
	v := p.Value()
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case KindI16:
		return int64(v.I16), nil
	case KindI32:
		return int64(v.I32), nil
	case KindI64:
		return v.I64, nil
	case KindF32:
		return int64(v.F32), nil
	case KindF64:
		return int64(v.F64), nil
	default:
		return 0, &ErrTypeMismatch{Have: v.Kind, Want: "long"}
	}
}
