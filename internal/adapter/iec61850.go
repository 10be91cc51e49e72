package adapter

import (
	"github.com/sirupsen/logrus"

	"github.com/openfieldgw/iec104-gateway/mapping"
	"github.com/openfieldgw/iec104-gateway/point"
	"github.com/openfieldgw/iec104-gateway/store"
)

// IEC61850Report is the shape an MMS report-handler callback hands back for
// one reported data attribute: a reference string and its decoded value.
// ReasonCode mirrors the report's trigger reason; Ingest does not look at it
// and ingests every mapped report whatever its reason.
type IEC61850Report struct {
	DataRef    string
	Value      interface{}
	Quality    bool // true == good quality
	TimestampMs int64
	ReasonCode  ReportReason
}

// ReportReason is a minimal stand-in for the trigger-options bitmask IEC
// 61850 MMS reports carry (data-change, quality-change, integrity, GI).
type ReportReason int

const (
	ReasonDataChange ReportReason = iota
	ReasonQualityChange
	ReasonIntegrity
	ReasonGeneralInterrogation
)

// IEC61850Adapter maps reported data attributes to channel IDs via the
// mapping table and publishes them to the store unscaled — scaling is a
// Modbus-only concern per spec.md §4.2.
type IEC61850Adapter struct {
	table *mapping.Table
	store *store.Store
	lg    *logrus.Logger
}

// NewIEC61850Adapter constructs an adapter over table and s.
func NewIEC61850Adapter(table *mapping.Table, s *store.Store, lg *logrus.Logger) *IEC61850Adapter {
	if lg == nil {
		lg = logrus.New()
	}
	return &IEC61850Adapter{table: table, store: s, lg: lg}
}

// Ingest converts one reported data attribute into a Point and publishes it.
// A report whose data reference has no mapping entry is silently skipped.
func (a *IEC61850Adapter) Ingest(r IEC61850Report) {
	m, ok := a.table.Lookup61850(r.DataRef)
	if !ok {
		a.lg.Debugf("adapter: 61850 channel %s has no mapping, skipping", r.DataRef)
		return
	}

	val, ok := toValue(r.Value)
	if !ok {
		a.lg.Warnf("adapter: 61850 channel %s carries an unsupported value type %T", r.DataRef, r.Value)
		return
	}

	p := point.New(m.CommonAddress, m.IOA, m.AsduType, val, r.Quality, r.TimestampMs)
	p.SourceProtocol = "IEC61850"
	p.SourceAddress = r.DataRef
	p.Description = m.Description
	a.store.Update(p)
}

func toValue(v interface{}) (point.Value, bool) {
	switch x := v.(type) {
	case bool:
		return point.BoolValue(x), true
	case int16:
		return point.I16Value(x), true
	case int32:
		return point.I32Value(x), true
	case int64:
		return point.I64Value(x), true
	case float32:
		return point.F32Value(x), true
	case float64:
		return point.F64Value(x), true
	case []byte:
		return point.BytesValue(x), true
	case string:
		return point.StringValue(x), true
	default:
		return point.Value{}, false
	}
}
