// Package adapter holds thin demonstration adapters that turn field-side
// samples into canonical point.Point values and publish them to the store.
// The actual field-protocol client libraries (61850, Modbus) are external
// collaborators referenced only by interface per spec.md §1; these adapters
// model the shape of that interface without reimplementing either protocol.
package adapter

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/openfieldgw/iec104-gateway/mapping"
	"github.com/openfieldgw/iec104-gateway/point"
	"github.com/openfieldgw/iec104-gateway/store"
)

// ModbusSample is the shape a Modbus TCP client library hands back for one
// holding-register read: a register address and its raw register content.
// Raw is uint32 because some function codes (e.g. reading a pair of 16-bit
// holding registers as one 32-bit value) hand back more than 16 bits before
// scaling is applied.
type ModbusSample struct {
	UnitID   byte
	Register uint16
	Raw      uint32
}

// ModbusAdapter maps register reads to channel IDs via the mapping table,
// applies the mapping's scaling factor and offset, and publishes the
// scaled value to the store. Unmapped registers are silently skipped, per
// spec.md §4.2.
type ModbusAdapter struct {
	table *mapping.Table
	store *store.Store
	lg    *logrus.Logger

	// ChannelID resolves a register read to the mapping table's channel ID.
	// Demonstration deployments key by register number; a real deployment
	// would derive this from unit ID and register together.
	ChannelID func(ModbusSample) string
}

// NewModbusAdapter constructs an adapter over table and s. lg defaults to a
// standalone logger when nil.
func NewModbusAdapter(table *mapping.Table, s *store.Store, lg *logrus.Logger) *ModbusAdapter {
	if lg == nil {
		lg = logrus.New()
	}
	return &ModbusAdapter{
		table: table,
		store: s,
		lg:    lg,
		ChannelID: func(s ModbusSample) string {
			return defaultModbusChannelID(s.Register)
		},
	}
}

// Ingest applies the mapping's scaling and publishes one sample to the
// store. It is the Modbus ingress path referenced by spec.md §4.2 and §6:
// "scaled = raw*factor + offset", applied here, never inside the core.
func (a *ModbusAdapter) Ingest(s ModbusSample) {
	channelID := a.ChannelID(s)
	m, ok := a.table.LookupModbus(channelID)
	if !ok {
		a.lg.Debugf("adapter: modbus channel %s has no mapping, skipping", channelID)
		return
	}

	scaled := m.Scale(float64(s.Raw))
	p := point.New(m.CommonAddress, m.IOA, m.AsduType, point.F64Value(scaled), true, 0)
	p.SourceProtocol = "MODBUS_TCP"
	p.SourceAddress = channelID
	p.Description = m.Description
	a.store.Update(p)
}

func defaultModbusChannelID(register uint16) string {
	return "holding_reg_" + strconv.Itoa(int(register))
}
