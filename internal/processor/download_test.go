package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressThrottle(t *testing.T) {
	var emitted []float64
	th := newProgressThrottle(func(pct float64) { emitted = append(emitted, pct) })

	// 0% always goes out.
	th.report(0)
	assert.Equal(t, []float64{0}, emitted)

	// A fast burst of small increments right after: suppressed, both
	// the step and the interval gate fail.
	th.report(0.5)
	th.report(1.0)
	th.report(3.0)
	assert.Equal(t, []float64{0}, emitted)

	// Enough time but not enough percentage movement: still quiet.
	th.lastAt = time.Now().Add(-2 * time.Second)
	th.report(1.5)
	assert.Equal(t, []float64{0}, emitted)

	// Both gates pass.
	th.report(4.0)
	assert.Equal(t, []float64{0, 4.0}, emitted)

	// Immediately after an emit, even a big jump is interval-gated.
	th.report(50)
	assert.Equal(t, []float64{0, 4.0}, emitted)

	// 100% always goes out.
	th.report(100)
	assert.Equal(t, []float64{0, 4.0, 100}, emitted)
}
