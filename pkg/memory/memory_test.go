package memory

import (
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	sequence []uint64
	i        int
	exited   bool
}

func (f *fakeReader) RSS(pid int) (uint64, bool) {
	if f.exited || f.i >= len(f.sequence) {
		return 0, false
	}
	v := f.sequence[f.i]
	f.i++
	return v, true
}

func TestCheck_FewerThanTwoSamplesHasZeroGrowth(t *testing.T) {
	reader := &fakeReader{sequence: []uint64{100 * bytesPerMB}}
	m := NewMonitor(DefaultConfig(500*bytesPerMB, 8000*bytesPerMB), reader)

	r, ok := m.Check(1, "w1")
	require.True(t, ok)
	assert.Equal(t, float64(0), r.GrowthMBPerMin)
	assert.Equal(t, types.MemoryNormal, r.Severity)
}

func TestCheck_KillLimitIsCritical(t *testing.T) {
	reader := &fakeReader{sequence: []uint64{9000 * bytesPerMB}}
	m := NewMonitor(DefaultConfig(500*bytesPerMB, 8000*bytesPerMB), reader)

	r, ok := m.Check(1, "w1")
	require.True(t, ok)
	assert.Equal(t, types.MemoryCritical, r.Severity)
	assert.True(t, m.IsRunaway("w1"))
}

func TestCheck_WarningLimitBelowKill(t *testing.T) {
	reader := &fakeReader{sequence: []uint64{600 * bytesPerMB}}
	m := NewMonitor(DefaultConfig(500*bytesPerMB, 8000*bytesPerMB), reader)

	r, ok := m.Check(1, "w1")
	require.True(t, ok)
	assert.Equal(t, types.MemoryWarning, r.Severity)
	assert.False(t, m.IsRunaway("w1"))
}

func TestCheck_SustainedGrowthTriggersWarning(t *testing.T) {
	reader := &fakeReader{sequence: []uint64{100 * bytesPerMB, 260 * bytesPerMB}}
	m := NewMonitor(DefaultConfig(500*bytesPerMB, 8000*bytesPerMB), reader)

	now := time.Now()
	m.now = func() time.Time { return now }
	_, ok := m.Check(1, "w1")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	r, ok := m.Check(1, "w1")
	require.True(t, ok)
	// (260-100)MB over 2min = 80 MB/min >= 50 threshold
	assert.InDelta(t, 80, r.GrowthMBPerMin, 0.01)
	assert.Equal(t, types.MemoryWarning, r.Severity)
}

func TestCheck_SamplesOutsideWindowAreDropped(t *testing.T) {
	reader := &fakeReader{sequence: []uint64{100 * bytesPerMB, 100 * bytesPerMB}}
	cfg := DefaultConfig(500*bytesPerMB, 8000*bytesPerMB)
	cfg.Window = time.Minute
	m := NewMonitor(cfg, reader)

	now := time.Now()
	m.now = func() time.Time { return now }
	m.Check(1, "w1")

	now = now.Add(5 * time.Minute)
	m.samples["w1"] = append([]Sample{}, m.samples["w1"]...)
	r, _ := m.Check(1, "w1")
	// first sample should have been trimmed, leaving only this one -> growth 0
	assert.Equal(t, float64(0), r.GrowthMBPerMin)
}

func TestCheck_ProcessExitedReturnsNotOK(t *testing.T) {
	reader := &fakeReader{exited: true}
	m := NewMonitor(DefaultConfig(500*bytesPerMB, 8000*bytesPerMB), reader)
	_, ok := m.Check(1, "w1")
	assert.False(t, ok)
}

func TestSeverity_UnknownWorkerIsNotOK(t *testing.T) {
	m := NewMonitor(DefaultConfig(500*bytesPerMB, 8000*bytesPerMB), &fakeReader{})
	_, ok := m.Severity("nope")
	assert.False(t, ok)
}
