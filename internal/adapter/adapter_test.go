package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openfieldgw/iec104-gateway/mapping"
	"github.com/openfieldgw/iec104-gateway/store"
)

func loadTestTable(t *testing.T) *mapping.Table {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.ini")
	content := `
[iec61850.breaker_status]
IOA = 1001
AsduType = M_SP_NA_1

[modbus.holding_reg_5]
IOA = 3005
AsduType = M_ME_NB_1
ScalingFactor = 0.1
Offset = 0.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp ini: %v", err)
	}
	table, err := mapping.Load(path)
	if err != nil {
		t.Fatalf("mapping.Load: %v", err)
	}
	return table
}

func TestModbusAdapterScalesOnIngest(t *testing.T) {
	table := loadTestTable(t)
	s := store.New(4, nil)

	a := NewModbusAdapter(table, s, nil)
	a.Ingest(ModbusSample{Register: 5, Raw: 123456})

	p, ok := s.Get(1, 3005)
	if !ok {
		t.Fatalf("expected a published point at ioa 3005")
	}
	got, _ := p.AsFloat()
	if got != 12345.6 {
		t.Fatalf("want scaled value 12345.6, got %v", got)
	}
}

func TestModbusAdapterSkipsUnmappedRegister(t *testing.T) {
	table := loadTestTable(t)
	s := store.New(4, nil)

	a := NewModbusAdapter(table, s, nil)
	a.Ingest(ModbusSample{Register: 999, Raw: 1})

	if _, ok := s.Get(1, 0); ok {
		t.Fatalf("unmapped channel must not publish a point")
	}
}

func TestIEC61850AdapterPublishesUnscaledValue(t *testing.T) {
	table := loadTestTable(t)
	s := store.New(4, nil)

	a := NewIEC61850Adapter(table, s, nil)
	a.Ingest(IEC61850Report{DataRef: "breaker_status", Value: true, Quality: true})

	p, ok := s.Get(1, 1001)
	if !ok {
		t.Fatalf("expected a published point at ioa 1001")
	}
	got, _ := p.AsBool()
	if !got {
		t.Fatalf("want breaker status true")
	}
}
