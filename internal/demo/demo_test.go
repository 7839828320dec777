package demo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/lazyscheduler/internal/scheduler"
)

func TestRunFanOutFanIn_DebugMode(t *testing.T) {
	scheduler.ResetWorkerPool(0)

	sum, count, err := RunFanOutFanIn(3, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(81), count, "3^4 leaves")
	assert.Equal(t, int64(81), sum, "each leaf contributes exactly 1")
}

func TestRunFanOutFanIn_WorkerPool(t *testing.T) {
	pool := scheduler.ResetWorkerPool(4)
	defer pool.Shutdown()

	sum, count, err := RunFanOutFanIn(2, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(64), count, "2^6 leaves")
	assert.Equal(t, sum, count, "each leaf contributes exactly 1")
}

func TestRunFanOutFanIn_SingleNode(t *testing.T) {
	scheduler.ResetWorkerPool(0)

	sum, count, err := RunFanOutFanIn(5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "depth 0 is a single leaf regardless of width")
	assert.Equal(t, int64(1), sum)
}
