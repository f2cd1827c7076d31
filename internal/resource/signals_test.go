package resource

import (
	"math"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemorySignalWithoutLimit(t *testing.T) {
	old := debug.SetMemoryLimit(math.MaxInt64)
	defer debug.SetMemoryLimit(old)

	assert.Zero(t, MemorySignal())
}

func TestMemorySignalWithLimit(t *testing.T) {
	old := debug.SetMemoryLimit(1 << 40)
	defer debug.SetMemoryLimit(old)

	v := MemorySignal()
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 1.0, "a 1TiB limit should not read as pressure")
}

func TestGoroutineSignal(t *testing.T) {
	v := GoroutineSignal(0)()
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 1.0)

	tight := GoroutineSignal(1)()
	assert.GreaterOrEqual(t, tight, 1.0, "a ceiling of one is always saturated")
}
