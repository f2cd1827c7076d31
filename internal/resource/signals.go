package resource

import (
	"math"
	"runtime"
	"runtime/debug"
)

// defaultGoroutineCeiling is the goroutine count treated as full pressure
// when no ceiling is configured.
const defaultGoroutineCeiling = 10000

// MemorySignal reports live heap as a fraction of the runtime's soft memory
// limit (GOMEMLIMIT). Without a limit there is nothing to press against, so
// it reports zero.
func MemorySignal() float64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / float64(limit)
}

// GoroutineSignal builds a signal reporting the goroutine count against a
// soft ceiling. A blocked downstream shows up here as a climbing count long
// before memory does. A non-positive ceiling selects the default.
func GoroutineSignal(ceiling int) LoadSignal {
	if ceiling <= 0 {
		ceiling = defaultGoroutineCeiling
	}
	return func() float64 {
		return float64(runtime.NumGoroutine()) / float64(ceiling)
	}
}
