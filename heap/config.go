package heap

import "sync/atomic"

// Runtime-tunable performance parameters, grounded on
// original_source/mm/rust/src/config.rs. These apply process-wide to every
// Backend, matching the original's use of process-global atomics rather
// than per-heap configuration.
var (
	validationLevel   atomic.Uint32 // 0=magic only, 1=full header and canary checks, 2=also Validate() after every free; see DESIGN.md
	fastCacheSize     atomic.Uint32
	coalesceThresh    atomic.Uint32
	smallAllocThresh  atomic.Uint32
)

func init() {
	validationLevel.Store(1)
	fastCacheSize.Store(32)
	coalesceThresh.Store(1000)
	smallAllocThresh.Store(1024)
}

// PerfMode selects a preset bundle of validation and caching parameters.
type PerfMode int

const (
	PerfModeFast PerfMode = iota
	PerfModeBalanced
	PerfModeSecure
)

// SetPerformanceMode applies one of the three preset tuning bundles.
// Invalid modes are ignored.
func SetPerformanceMode(mode PerfMode) {
	switch mode {
	case PerfModeFast:
		validationLevel.Store(0)
		fastCacheSize.Store(64)
		coalesceThresh.Store(2000)
	case PerfModeBalanced:
		validationLevel.Store(1)
		fastCacheSize.Store(32)
		coalesceThresh.Store(1000)
	case PerfModeSecure:
		validationLevel.Store(2)
		fastCacheSize.Store(16)
		coalesceThresh.Store(500)
	}
}

// TuneParameters overrides individual knobs directly; each argument is
// validated independently and out-of-range values are left unchanged,
// matching rust_heap_tune_parameters's per-field validation in config.rs.
func TuneParameters(validation, cacheSize, coalesceThreshold, smallThreshold uint32) {
	if validation <= 2 {
		validationLevel.Store(validation)
	}
	if cacheSize > 0 && cacheSize <= 1024 {
		fastCacheSize.Store(cacheSize)
	}
	if coalesceThreshold > 0 {
		coalesceThresh.Store(coalesceThreshold)
	}
	if smallThreshold >= 32 && smallThreshold <= 8192 {
		smallAllocThresh.Store(smallThreshold)
	}
}

func fastCacheCapacity() int {
	return int(fastCacheSize.Load())
}

func coalesceThreshold() uintptr {
	return uintptr(coalesceThresh.Load())
}
