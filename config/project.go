// Package config holds the two configuration layers named in §6/§9:
// ProjectConfig, the per-vehicle tune loaded once at start-up, and
// RuntimeConfig, the daemon's own operating parameters. ProjectConfig stays
// on encoding/json (its schema is explicitly "JSON-like with stable field
// names"); RuntimeConfig follows sagostin-goefidash's internal/server
// config.go and uses gopkg.in/yaml.v3.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"ecmcore/enginestate"
	"ecmcore/sensor"
	"ecmcore/tunetable"
)

// RevLimitPoint is one point on the CLT-indexed rev-limit curve.
type RevLimitPoint struct {
	CltF     float32 `json:"clt_f"`
	RevLimit float32 `json:"rev_limit"`
}

// TransmissionType selects which limp program a transmission controller
// should run when LimpArbiter notifies it.
type TransmissionType string

const (
	TransmissionManual TransmissionType = "manual"
	TransmissionAuto   TransmissionType = "automatic"
	TransmissionDCT    TransmissionType = "dct"
)

// PinMap is the injector/coil pin assignment, indexed by cylinder number
// (1-indexed, same numbering as FiringOrder) minus one.
type PinMap struct {
	CoilPins     [enginestate.NumCylinders]int `json:"coil_pins"`
	InjectorPins [enginestate.NumCylinders]int `json:"injector_pins"`
}

// ProjectConfig is the immutable-during-operation per-vehicle tune (§3).
type ProjectConfig struct {
	Cylinders   int   `json:"cylinders"`
	FiringOrder []int `json:"firing_order"`

	TotalTeeth   uint32 `json:"total_teeth"`
	MissingTeeth uint32 `json:"missing_teeth"`
	HasCam       bool   `json:"has_cam"`

	DisplacementCc     float32 `json:"displacement_cc"`
	InjectorFlowCcMin  float32 `json:"injector_flow_cc_min"`
	InjectorDeadTimeUs float32 `json:"injector_dead_time_us"`

	RevLimit   float32 `json:"rev_limit"`
	MaxDwellMs float32 `json:"max_dwell_ms"`
	Sequential bool    `json:"sequential"`

	AlternatorKp      float32 `json:"alternator_kp"`
	AlternatorKi      float32 `json:"alternator_ki"`
	AlternatorKd      float32 `json:"alternator_kd"`
	AlternatorTargetV float32 `json:"alternator_target_v"`

	ClosedLoopMinRPM float32 `json:"closed_loop_min_rpm"`
	ClosedLoopMaxRPM float32 `json:"closed_loop_max_rpm"`
	ClosedLoopMaxMAP float32 `json:"closed_loop_max_map"`
	ClosedLoopKp     float32 `json:"closed_loop_kp"`
	ClosedLoopKi     float32 `json:"closed_loop_ki"`

	AseInitialPct float32 `json:"ase_initial_pct"`
	AseDurationMs float32 `json:"ase_duration_ms"`
	AseMinCltF    float32 `json:"ase_min_clt_f"`

	DfcoRPM          float32 `json:"dfco_rpm"`
	DfcoTPS          float32 `json:"dfco_tps"`
	DfcoEntryDelayMs float32 `json:"dfco_entry_delay_ms"`
	DfcoExitRPM      float32 `json:"dfco_exit_rpm"`
	DfcoExitTPS      float32 `json:"dfco_exit_tps"`

	CltRevLimitCurve [6]RevLimitPoint `json:"clt_rev_limit_curve"`

	LimpCltMaxF       float32 `json:"limp_clt_max_f"`
	LimpRevLimit      float32 `json:"limp_rev_limit"`
	LimpAdvanceCap    float32 `json:"limp_advance_cap"`
	LimpRecoveryMs    int64   `json:"limp_recovery_ms"`
	OilStartupDelayMs int64   `json:"oil_startup_delay_ms"`
	LimpMinOilPsi     float32 `json:"limp_min_oil_psi"`

	WidebandEnable [2]bool `json:"wideband_enable"`

	Transmission TransmissionType `json:"transmission"`

	Pins PinMap `json:"pins"`
}

// Validate checks the invariants named in §3: firing order length matches
// cylinder count, and the missing-tooth count is smaller than the wheel.
func (c *ProjectConfig) Validate() error {
	if len(c.FiringOrder) != c.Cylinders {
		return fmt.Errorf("config: len(firing_order)=%d does not match cylinders=%d", len(c.FiringOrder), c.Cylinders)
	}
	if c.MissingTeeth >= c.TotalTeeth {
		return fmt.Errorf("config: missing_teeth=%d must be less than total_teeth=%d", c.MissingTeeth, c.TotalTeeth)
	}
	for _, cyl := range c.FiringOrder {
		if cyl < 1 || cyl > enginestate.NumCylinders {
			return fmt.Errorf("config: firing_order entry %d out of range", cyl)
		}
	}
	return nil
}

// TuneTables groups the three lookup tables FuelSparkCompute reads.
type TuneTables struct {
	VE    *tunetable.Table
	AFR   *tunetable.Table
	Spark *tunetable.Table
}

// Store is the external collaborator ProjectConfig, the sensor/fault
// catalogs and tune tables are loaded from at start-up (§3's "persisted
// storage" lifecycle note). SD-card mounting, FTP upload and OTA delivery
// of a new bundle are explicitly out of scope; Store only describes the
// read side of a bundle already present on local storage.
type Store interface {
	Load() (*ProjectConfig, []sensor.Descriptor, []sensor.Rule, TuneTables, error)
}

// bundle is the on-disk JSON shape a FileStore reads: ProjectConfig plus
// the sensor and fault catalogs and raw tune-table grids, all schema'd with
// stable field names per §6.
type bundle struct {
	Project ProjectConfig       `json:"project"`
	Sensors []sensor.Descriptor `json:"sensors"`
	Rules   []sensor.Rule       `json:"rules"`

	Tables struct {
		VE    tableData `json:"ve"`
		AFR   tableData `json:"afr"`
		Spark tableData `json:"spark"`
	} `json:"tables"`
}

type tableData struct {
	XAxis  []float32 `json:"x_axis"`
	YAxis  []float32 `json:"y_axis"`
	Values []float32 `json:"values"`
}

func (d tableData) toTable() *tunetable.Table {
	if len(d.XAxis) == 0 || len(d.YAxis) == 0 {
		return nil
	}
	t := tunetable.New(len(d.XAxis), len(d.YAxis))
	t.SetXAxis(d.XAxis)
	t.SetYAxis(d.YAxis)
	t.SetValues(d.Values)
	return t
}

// FileStore is the reference Store: a single JSON bundle file on local
// storage, the same "config lives in one file next to the binary" model as
// huskki's config package, just schema'd for a vehicle tune instead of
// stream/chart definitions.
type FileStore struct {
	Path string
}

// NewFileStore constructs a FileStore reading from path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads and validates the bundle at Path.
func (s *FileStore) Load() (*ProjectConfig, []sensor.Descriptor, []sensor.Rule, TuneTables, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, nil, nil, TuneTables{}, fmt.Errorf("config: reading %s: %w", s.Path, err)
	}

	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, nil, nil, TuneTables{}, fmt.Errorf("config: decoding %s: %w", s.Path, err)
	}

	if err := b.Project.Validate(); err != nil {
		return nil, nil, nil, TuneTables{}, err
	}

	tables := TuneTables{
		VE:    b.Tables.VE.toTable(),
		AFR:   b.Tables.AFR.toTable(),
		Spark: b.Tables.Spark.toTable(),
	}

	return &b.Project, b.Sensors, b.Rules, tables, nil
}
