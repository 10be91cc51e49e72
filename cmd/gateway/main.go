package main

import (
	"flag"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	iec104 "github.com/openfieldgw/iec104-gateway"
	"github.com/openfieldgw/iec104-gateway/asdubuild"
	"github.com/openfieldgw/iec104-gateway/gateway"
	"github.com/openfieldgw/iec104-gateway/internal/adapter"
	"github.com/openfieldgw/iec104-gateway/mapping"
	"github.com/openfieldgw/iec104-gateway/store"
)

func main() {
	configPath := flag.String("config", "config/gateway.ini", "path to the gateway's ini mapping/config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	iec104.SetLogger(logger)
	asdubuild.SetLogger(logger)

	table, err := mapping.Load(*configPath)
	if err != nil {
		logger.Fatalf("gateway: load config %s: %v", *configPath, err)
	}

	// store.Default is the process-wide singleton spec.md §4.3 names: lazily
	// created on first access, explicitly torn down on exit rather than
	// constructed and owned directly by main.
	pointStore := store.Default(table.MaxConnections+mapping.DefaultWorkerHeadroom, logger)
	defer store.ShutdownDefault()

	address := table.BindAddress + ":" + strconv.Itoa(portOrDefault(table.Port))
	srv := gateway.NewServer(gateway.Config{
		Address:              address,
		MaxConnections:       table.MaxConnections,
		ListenBacklog:        mapping.DefaultListenBacklog,
		DefaultCommonAddress: table.DefaultCommonAddress,
	}, pointStore, logger)

	go demoIngest(table, pointStore, logger)

	logger.Infof("gateway: starting on %s", address)
	if err := srv.Serve(); err != nil {
		logger.Fatalf("gateway: serve: %v", err)
	}
}

func portOrDefault(port int) int {
	if port <= 0 {
		return mapping.DefaultPort
	}
	return port
}

// demoIngest feeds a handful of simulated field samples into the adapters
// so a freshly started gateway has something to interrogate and broadcast.
// A real deployment replaces this with the 61850/Modbus client libraries
// referenced only by interface in spec.md §1.
func demoIngest(table *mapping.Table, s *store.Store, lg *logrus.Logger) {
	modbus := adapter.NewModbusAdapter(table, s, lg)
	iec61850 := adapter.NewIEC61850Adapter(table, s, lg)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	raw := uint16(0)
	for range ticker.C {
		raw += 10
		modbus.Ingest(adapter.ModbusSample{Register: 5, Raw: uint32(raw)})
		iec61850.Ingest(adapter.IEC61850Report{DataRef: "breaker_status", Value: raw%20 == 0, Quality: true})
	}
}
