// Package crank implements the interrupt-driven crankshaft tooth decoder
// (§4.1). A Decoder owns one N-M trigger wheel's worth of state and is
// driven exclusively from its OnEdge callback — the same single-writer
// discipline huskki's drivers keep over a single serial port, generalized
// here to "one ISR, one owner".
package crank

import (
	"sync/atomic"
)

// SyncState is the tooth-sync state machine's current state.
type SyncState int32

const (
	Lost SyncState = iota
	Syncing
	Synced
)

func (s SyncState) String() string {
	switch s {
	case Lost:
		return "LOST"
	case Syncing:
		return "SYNCING"
	case Synced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

const (
	minPeriodUs     = 50
	ringSize        = 8
	maxRPM          = 20000
	captureLogTeeth = 720
)

// CaptureEntry is one (period, tooth number) pair in the optional capture log.
type CaptureEntry struct {
	PeriodUs  int64
	ToothNum  uint32
}

// Decoder is the CrankDecoder component. TotalTeeth and MissingTeeth are
// fixed at construction (ProjectConfig is immutable during operation).
//
// All fields below the exported snapshot accessors are touched only by
// OnEdge; RPM() and ToothPosition() are the single-word atomic reads that
// other components (notably RealtimeScheduler) perform concurrently, per §5.
type Decoder struct {
	totalTeeth   uint32
	missingTeeth uint32

	// ISR-owned, single-writer state.
	ring       [ringSize]int64
	ringIdx    int
	ringFilled int
	lastEdgeUs int64
	toothCount uint32

	capture    []CaptureEntry
	capturing  bool
	captureCap int

	// Cross-goroutine atomics (single word each, per §5's access discipline).
	syncState     atomic.Int32
	toothPosition atomic.Uint32
	rpm           atomic.Uint32
	lastEdgeTime  atomic.Int64
}

// New constructs a Decoder for a totalTeeth/missingTeeth trigger wheel
// (typical N=36, M=1). It starts in Lost, as required by §3's lifecycle note.
func New(totalTeeth, missingTeeth uint32) *Decoder {
	d := &Decoder{totalTeeth: totalTeeth, missingTeeth: missingTeeth}
	d.syncState.Store(int32(Lost))
	return d
}

// StartCapture arms the bounded capture log (≥720 entries per §3); it
// collects until full and then stops on its own.
func (d *Decoder) StartCapture(capacity int) {
	if capacity < captureLogTeeth {
		capacity = captureLogTeeth
	}
	d.capture = make([]CaptureEntry, 0, capacity)
	d.captureCap = capacity
	d.capturing = true
}

// CaptureComplete reports whether the capture log filled and stopped.
func (d *Decoder) CaptureComplete() bool {
	return d.capture != nil && !d.capturing && len(d.capture) > 0
}

// CaptureLog returns the entries collected so far (read after capture stops).
func (d *Decoder) CaptureLog() []CaptureEntry {
	return d.capture
}

// OnEdge is the ISR body: called once per tooth edge with a monotonic
// microsecond timestamp. It is bounded, allocation-free on the hot path
// (the optional capture log append is the one exception, and only runs
// while arming diagnostics, never in normal operation), and touches no
// shared memory besides the atomics published at the end.
func (d *Decoder) OnEdge(nowUs int64) {
	period := nowUs - d.lastEdgeUs
	d.lastEdgeUs = nowUs

	if period < minPeriodUs {
		// Rejected as noise; do not advance state, do not publish.
		return
	}
	if d.ringFilled == 0 {
		// First-ever edge: nothing to compare against yet.
		d.pushRing(period)
		d.lastEdgeTime.Store(nowUs)
		return
	}

	avg := d.ringAverage()
	isGap := avg > 0 && period > avg+avg/2

	switch SyncState(d.syncState.Load()) {
	case Lost:
		if isGap {
			d.syncState.Store(int32(Syncing))
			d.toothCount = 0
		}
	case Syncing:
		d.toothCount++
		if isGap {
			if d.toothCount == d.totalTeeth-d.missingTeeth {
				d.syncState.Store(int32(Synced))
			}
			d.toothCount = 0
		}
	case Synced:
		d.toothCount++
		if isGap {
			if d.toothCount != d.totalTeeth-d.missingTeeth {
				d.syncState.Store(int32(Lost))
				d.rpm.Store(0)
			}
			d.toothCount = 0
		}
	}

	d.pushRing(period)
	d.lastEdgeTime.Store(nowUs)

	synced := SyncState(d.syncState.Load()) == Synced
	if synced {
		pos := d.toothCount % d.totalTeeth
		d.toothPosition.Store(pos)

		rpm := uint32(60_000_000 / (period * int64(d.totalTeeth)))
		if rpm > maxRPM {
			rpm = maxRPM
		}
		d.rpm.Store(rpm)
	}

	if d.capturing {
		d.capture = append(d.capture, CaptureEntry{PeriodUs: period, ToothNum: d.toothCount})
		if len(d.capture) >= d.captureCap {
			d.capturing = false
		}
	}
}

func (d *Decoder) pushRing(period int64) {
	d.ring[d.ringIdx] = period
	d.ringIdx = (d.ringIdx + 1) % ringSize
	if d.ringFilled < ringSize {
		d.ringFilled++
	}
}

func (d *Decoder) ringAverage() int64 {
	if d.ringFilled == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < d.ringFilled; i++ {
		sum += d.ring[i]
	}
	return sum / int64(d.ringFilled)
}

// SyncState returns the current sync state (atomic read).
func (d *Decoder) SyncState() SyncState {
	return SyncState(d.syncState.Load())
}

// ToothPosition returns the current tooth index, 0..TotalTeeth-1 (atomic read).
func (d *Decoder) ToothPosition() uint32 {
	return d.toothPosition.Load()
}

// RPM returns the current engine speed, clamped to [0, 20000] (atomic read).
func (d *Decoder) RPM() uint32 {
	return d.rpm.Load()
}

// LastEdgeTimeUs returns the timestamp of the most recent accepted edge.
func (d *Decoder) LastEdgeTimeUs() int64 {
	return d.lastEdgeTime.Load()
}

// TotalTeeth returns the configured wheel tooth count.
func (d *Decoder) TotalTeeth() uint32 { return d.totalTeeth }
