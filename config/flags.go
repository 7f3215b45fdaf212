package config

import (
	"flag"
)

// EdgeSourceType selects where CrankDecoder/CamDecoder edges come from,
// the same role huskki's DriverType plays selecting between its replay,
// arduino, and socket-can backends.
type EdgeSourceType string

const (
	EdgeSourceHardware EdgeSourceType = "hardware"
	EdgeSourceBench    EdgeSourceType = "bench"
)

// Flags is the set of process-level flags parsed at start-up: these select
// how the daemon boots, not what it tunes (that's RuntimeConfig/
// ProjectConfig).
type Flags struct {
	EdgeSource    EdgeSourceType
	RuntimeConfig string
	ProjectBundle string
}

// BenchFlags configures the serial bench harness edge source.
type BenchFlags struct {
	SerialPort string
	BaudRate   int
}

const DefaultBenchBaudRate = 115200

// GetFlags parses os.Args the same way huskki's config.GetFlags does.
func GetFlags() (*Flags, *BenchFlags) {
	flags := &Flags{}
	var edgeSource string
	flag.StringVar(&edgeSource, "edge-source", "bench", "crank/cam edge source: hardware or bench")
	flag.StringVar(&flags.RuntimeConfig, "runtime-config", "runtime.yaml", "path to the daemon runtime config")
	flag.StringVar(&flags.ProjectBundle, "project-bundle", "", "path to the project config bundle (overrides runtime config)")

	bench := &BenchFlags{}
	flag.StringVar(&bench.SerialPort, "bench-serial-port", "auto", "serial device path or 'auto'")
	flag.IntVar(&bench.BaudRate, "bench-baud", DefaultBenchBaudRate, "bench harness baud rate")

	flag.Parse()

	flags.EdgeSource = EdgeSourceType(edgeSource)
	return flags, bench
}
