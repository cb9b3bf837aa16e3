package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const nodeA = "https://node-a.example"
const nodeB = "https://node-b.example"

// fakeClock lets tests step past openDuration without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New(threshold, time.Minute)
	b.now = clk.now
	return b, clk
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure(nodeA)
	b.RecordFailure(nodeA)
	assert.True(t, b.Allow(nodeA), "still closed before threshold")

	b.RecordFailure(nodeA)
	assert.False(t, b.Allow(nodeA))
	assert.Equal(t, StateOpen, b.State(nodeA))
	assert.Equal(t, []string{nodeA}, b.Open())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clk := newTestBreaker(2)

	b.RecordFailure(nodeA)
	b.RecordFailure(nodeA)
	assert.False(t, b.Allow(nodeA))

	clk.advance(time.Minute)
	assert.True(t, b.Allow(nodeA), "one probe after open duration")
	assert.Equal(t, StateHalfOpen, b.State(nodeA))
	assert.False(t, b.Allow(nodeA), "second request while probing is rejected")

	b.RecordSuccess(nodeA)
	assert.Equal(t, StateClosed, b.State(nodeA))
	assert.Empty(t, b.Open())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2)

	b.RecordFailure(nodeA)
	b.RecordFailure(nodeA)
	clk.advance(time.Minute)
	b.Allow(nodeA)

	b.RecordFailure(nodeA)
	assert.Equal(t, StateOpen, b.State(nodeA))
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure(nodeA)
	b.RecordFailure(nodeA)
	b.RecordSuccess(nodeA)
	b.RecordFailure(nodeA)

	assert.True(t, b.Allow(nodeA))
}

func TestBreaker_IndependentEndpoints(t *testing.T) {
	b, _ := newTestBreaker(2)

	b.RecordFailure(nodeA)
	b.RecordFailure(nodeA)

	assert.False(t, b.Allow(nodeA))
	assert.True(t, b.Allow(nodeB))
	assert.Equal(t, StateClosed, b.State("unknown"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
