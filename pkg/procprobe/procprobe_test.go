package procprobe

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPidExists_CurrentProcessIsAlive(t *testing.T) {
	p := NewProbe()
	assert.True(t, p.PidExists(os.Getpid()))
}

func TestPidExists_InvalidPidIsFalse(t *testing.T) {
	p := NewProbe()
	assert.False(t, p.PidExists(0))
	assert.False(t, p.PidExists(-1))
}

func TestRSS_CurrentProcessHasNonZeroRSS(t *testing.T) {
	p := NewProbe()
	rss, ok := p.RSS(os.Getpid())
	assert.True(t, ok)
	assert.Greater(t, rss, uint64(0))
}

func TestTmuxSessionExists_UnknownSessionIsFalse(t *testing.T) {
	p := NewProbe()
	assert.False(t, p.TmuxSessionExists("forge-test-session-that-does-not-exist"))
}
