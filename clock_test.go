package puma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrecisionTimestampMonotonicallyNonDecreasing(t *testing.T) {
	a := PrecisionTimestamp()
	time.Sleep(2 * time.Millisecond)
	b := PrecisionTimestamp()
	require.GreaterOrEqual(t, b, a)
}

func TestPrecisionTimestampDeltaMatchesSleepInSeconds(t *testing.T) {
	a := PrecisionTimestamp()
	time.Sleep(5 * time.Millisecond)
	b := PrecisionTimestamp()
	require.InDelta(t, 0.005, b-a, 0.01)
}
