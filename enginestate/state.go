// Package enginestate holds the single EngineState snapshot shared between
// the slow loop (writer), the fast loop (reader), and external observers
// (also readers), per §3 and §5. There is exactly one owner — the slow
// loop — and it publishes a full copy atomically via Store/Load on a
// pointer, the same double-buffered-by-value-copy trick huskki's
// events.EventHub uses for its "last" field: readers never see a
// half-written struct, only a possibly-stale complete one.
package enginestate

import "sync/atomic"

const NumCylinders = 8 // upper bound on trims; ProjectConfig.Cylinders may be fewer.

// Snapshot is EngineState (§3): a full engine-phase snapshot.
type Snapshot struct {
	RPM           uint32
	ToothPosition uint32

	MapKpa float32
	TpsPct float32
	CltF   float32
	IatF   float32
	VbatV  float32
	OilPsi float32

	AFR      [2]float32
	Lambda   [2]float32
	O2Ready  [2]bool

	TargetAFR        float32
	SparkAdvanceDeg  float32
	InjPwUs          float32
	InjTrim          [NumCylinders]float32

	Running        bool
	Cranking       bool
	SequentialMode bool

	LimpMode  bool
	FuelCut   bool
	FaultBits uint32
}

// Store is the cross-loop published state: a single atomic.Pointer to an
// immutable Snapshot. The slow loop builds a new Snapshot value each
// iteration and swaps it in; nothing ever mutates a published Snapshot in
// place, so readers never observe a torn field.
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore returns a Store seeded with a zero-valued Snapshot (matching the
// "all runtime state is zero-initialized" lifecycle rule in §3).
func NewStore() *Store {
	s := &Store{}
	s.ptr.Store(&Snapshot{})
	return s
}

// Publish atomically replaces the visible snapshot. Called once per
// slow-loop iteration, after sensors -> wideband -> fuel/spark -> limp have
// all written into the same local copy (§5's fixed ordering guarantee).
func (s *Store) Publish(snap Snapshot) {
	s.ptr.Store(&snap)
}

// Load returns the most recently published snapshot. Safe to call from any
// goroutine; never blocks.
func (s *Store) Load() Snapshot {
	p := s.ptr.Load()
	if p == nil {
		return Snapshot{}
	}
	return *p
}
