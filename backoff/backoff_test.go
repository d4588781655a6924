package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelaysGrowAndSaturate(t *testing.T) {
	p := New(time.Second, 2, 60*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		// 64 exceeds the ceiling but is returned as computed, not clamped
		// down to 60, and repeats from then on.
		64 * time.Second,
		64 * time.Second,
		64 * time.Second,
	}
	for i, w := range want {
		require.Equal(t, w, p.OnFailure(), "failure %d", i)
	}
}

func TestDelaysAreNonDecreasing(t *testing.T) {
	p := New(300*time.Millisecond, 3, 10*time.Second)

	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := p.OnFailure()
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestSuccessResetsToBase(t *testing.T) {
	p := New(time.Second, 2, 60*time.Second)

	// From any prior state, including saturation.
	for i := 0; i < 10; i++ {
		p.OnFailure()
	}
	p.OnSuccess()
	require.Equal(t, time.Second, p.OnFailure())

	p.OnSuccess()
	require.Equal(t, time.Second, p.OnFailure())
	require.Equal(t, 2*time.Second, p.OnFailure())
}

func TestDefaultsApplied(t *testing.T) {
	p := New(0, 0, 0)

	require.Equal(t, DefaultBase, p.OnFailure())
	require.Equal(t, time.Duration(DefaultFactor)*DefaultBase, p.OnFailure())
}
