package crank

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// feedOneRevolution emits teethPerRev-1 normal periods then one gap period
// (teethPerRev = totalTeeth-missingTeeth edges, one revolution), advancing
// *clock to the gap edge's timestamp.
func feedOneRevolution(d *Decoder, clock *int64, normalPeriod int64, teethPerRev int) {
	for i := 0; i < teethPerRev-1; i++ {
		*clock += normalPeriod
		d.OnEdge(*clock)
	}
	*clock += normalPeriod * 18 / 10 // 1.8x gap
	d.OnEdge(*clock)
}

func TestSyncAcquisitionOnSecondGap(t *testing.T) {
	d := New(36, 1)
	require.Equal(t, Lost, d.SyncState())

	var clock int64
	const period = 2000 // us, ~833 rpm equivalent at 36 teeth
	teethPerRev := 36 - 1

	// First gap: LOST -> SYNCING (no history yet to judge, but once ring has
	// data the gap after the first batch of teeth is detected).
	feedOneRevolution(d, &clock, period, teethPerRev)
	require.Equal(t, Syncing, d.SyncState(), "first gap should only enter SYNCING")

	// Second gap with the correct tooth count: SYNCING -> SYNCED.
	feedOneRevolution(d, &clock, period, teethPerRev)
	require.Equal(t, Synced, d.SyncState())
	require.Less(t, d.ToothPosition(), uint32(36))
	require.Greater(t, d.RPM(), uint32(0))
}

func TestSyncLostOnWrongToothCount(t *testing.T) {
	d := New(36, 1)
	var clock int64
	const period = 2000
	teethPerRev := 36 - 1

	feedOneRevolution(d, &clock, period, teethPerRev)
	feedOneRevolution(d, &clock, period, teethPerRev)
	require.Equal(t, Synced, d.SyncState())

	// A gap arriving after the wrong tooth count drops sync immediately and
	// zeroes RPM, per §4.1 step 4 SYNCED case.
	for i := 0; i < teethPerRev-5; i++ {
		clock += period
		d.OnEdge(clock)
	}
	clock += period * 18 / 10
	d.OnEdge(clock)

	require.Equal(t, Lost, d.SyncState())
	require.Equal(t, uint32(0), d.RPM())
}

func TestNoiseRejection(t *testing.T) {
	d := New(36, 1)
	d.OnEdge(1000)
	d.OnEdge(1010) // 10us period, below the 50us noise floor
	require.Equal(t, Lost, d.SyncState())
}

func TestInvariantSyncedImpliesToothInRange(t *testing.T) {
	d := New(36, 1)
	var clock int64
	const period = 1667 // ~1000rpm-ish at 36 teeth
	teethPerRev := 36 - 1
	for rev := 0; rev < 5; rev++ {
		feedOneRevolution(d, &clock, period, teethPerRev)
	}
	if d.SyncState() == Synced {
		require.Less(t, d.ToothPosition(), d.TotalTeeth())
	}
}

func TestCaptureLogStopsWhenFull(t *testing.T) {
	d := New(36, 1)
	d.StartCapture(720)
	var clock int64
	for i := 0; i < 1000; i++ {
		clock += 2000
		d.OnEdge(clock)
	}
	require.True(t, d.CaptureComplete())
	require.Len(t, d.CaptureLog(), 720)
}
