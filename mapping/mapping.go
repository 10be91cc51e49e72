// Package mapping holds the immutable, process-wide lookup from a
// source-side channel identifier to its 104 addressing and scaling, plus
// the handful of global constants that size the gateway.
package mapping

import (
	"fmt"
	"regexp"

	"gopkg.in/ini.v1"

	"github.com/openfieldgw/iec104-gateway/point"
)

// Global gateway constants. These are compile-time defaults; Load may
// override BindAddress/Port/DefaultCommonAddress/MaxConnections from an
// ini file's [gateway] section.
const (
	DefaultBindAddress       = "0.0.0.0"
	DefaultPort              = 2404
	DefaultCommonAddress     = 1
	DefaultMaxConnections    = 10
	DefaultListenBacklog     = 10
	DefaultBatchInterval     = 100 // ms
	DefaultWorkerHeadroom    = 24
	DefaultListenerSoftLimit = 10
	DefaultRejectLogInterval = 30 // seconds
)

// Mapping is one row of the point-mapping table: a source channel's 104
// addressing, its emitted ASDU type, and the Modbus-only scaling applied
// before the value reaches the store.
type Mapping struct {
	ChannelID     string
	IOA           uint32
	CommonAddress uint16
	AsduType      point.AsduType
	DataTypeHint  string
	ScalingFactor float64
	Offset        float64
	Description   string
}

// Scale applies (raw*factor + offset); Modbus adapters call this, nothing
// in the core ever does.
func (m Mapping) Scale(raw float64) float64 {
	return raw*m.ScalingFactor + m.Offset
}

// Table is the immutable-after-Load registry: one disjoint sub-table per
// source protocol.
type Table struct {
	BindAddress          string
	Port                 int
	DefaultCommonAddress uint16
	MaxConnections       int

	iec61850 map[string]Mapping
	modbus   map[string]Mapping
}

// Lookup61850 resolves a channel ID from the IEC 61850 sub-table. A missing
// entry is not an error — ok is simply false and the adapter should skip
// the channel.
func (t *Table) Lookup61850(channelID string) (Mapping, bool) {
	m, ok := t.iec61850[channelID]
	return m, ok
}

// LookupModbus resolves a channel ID from the Modbus sub-table.
func (t *Table) LookupModbus(channelID string) (Mapping, bool) {
	m, ok := t.modbus[channelID]
	return m, ok
}

var sectionNameRE = regexp.MustCompile(`^(iec61850|modbus)\.(.+)$`)

// Load reads a mapping table from an ini file. Each point gets its own
// section named "<protocol>.<channel_id>", e.g. "[modbus.holding_reg_5]",
// with keys IOA, CommonAddress, AsduType, DataTypeHint, ScalingFactor,
// Offset, Description. A "[gateway]" section may override the package's
// global defaults.
func Load(path string) (*Table, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: load %s: %w", path, err)
	}

	t := &Table{
		BindAddress:          DefaultBindAddress,
		Port:                 DefaultPort,
		DefaultCommonAddress: DefaultCommonAddress,
		MaxConnections:       DefaultMaxConnections,
		iec61850:             make(map[string]Mapping),
		modbus:               make(map[string]Mapping),
	}

	if gw, err := f.GetSection("gateway"); err == nil {
		if k, err := gw.GetKey("BindAddress"); err == nil {
			t.BindAddress = k.String()
		}
		if k, err := gw.GetKey("Port"); err == nil {
			if v, err := k.Int(); err == nil {
				t.Port = v
			}
		}
		if k, err := gw.GetKey("DefaultCommonAddress"); err == nil {
			if v, err := k.Int(); err == nil {
				t.DefaultCommonAddress = uint16(v)
			}
		}
		if k, err := gw.GetKey("MaxConnections"); err == nil {
			if v, err := k.Int(); err == nil {
				t.MaxConnections = v
			}
		}
	}

	for _, section := range f.Sections() {
		m := sectionNameRE.FindStringSubmatch(section.Name())
		if m == nil {
			continue
		}
		protocol, channelID := m[1], m[2]

		row, err := parseMappingSection(channelID, section)
		if err != nil {
			return nil, fmt.Errorf("mapping: section %s: %w", section.Name(), err)
		}

		switch protocol {
		case "iec61850":
			t.iec61850[channelID] = row
		case "modbus":
			t.modbus[channelID] = row
		}
	}

	return t, nil
}

func parseMappingSection(channelID string, section *ini.Section) (Mapping, error) {
	row := Mapping{
		ChannelID:     channelID,
		CommonAddress: DefaultCommonAddress,
		ScalingFactor: 1,
	}

	ioaKey, err := section.GetKey("IOA")
	if err != nil {
		return row, err
	}
	ioa, err := ioaKey.Uint()
	if err != nil {
		return row, err
	}
	row.IOA = uint32(ioa)

	if k, err := section.GetKey("CommonAddress"); err == nil {
		if v, err := k.Uint(); err == nil {
			row.CommonAddress = uint16(v)
		}
	}

	if k, err := section.GetKey("AsduType"); err == nil {
		row.AsduType = parseAsduType(k.String())
	}

	if k, err := section.GetKey("DataTypeHint"); err == nil {
		row.DataTypeHint = k.String()
	}

	if k, err := section.GetKey("ScalingFactor"); err == nil {
		if v, err := k.Float64(); err == nil {
			row.ScalingFactor = v
		}
	}

	if k, err := section.GetKey("Offset"); err == nil {
		if v, err := k.Float64(); err == nil {
			row.Offset = v
		}
	}

	if k, err := section.GetKey("Description"); err == nil {
		row.Description = k.String()
	}

	return row, nil
}

func parseAsduType(s string) point.AsduType {
	switch s {
	case "M_SP_NA_1":
		return point.MSpNa1
	case "M_SP_TB_1":
		return point.MSpTb1
	case "M_ME_NB_1":
		return point.MMeNb1
	case "M_ME_NC_1":
		return point.MMeNc1
	case "M_ME_TF_1":
		return point.MMeTf1
	default:
		return point.Unset
	}
}
