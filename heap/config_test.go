package heap

import "testing"

func TestSetPerformanceModeFast(t *testing.T) {
	SetPerformanceMode(PerfModeFast)
	if fastCacheCapacity() != 64 {
		t.Errorf("fast mode cache size = %d, want 64", fastCacheCapacity())
	}
	if coalesceThreshold() != 2000 {
		t.Errorf("fast mode coalesce threshold = %d, want 2000", coalesceThreshold())
	}
	SetPerformanceMode(PerfModeBalanced) // restore default for other tests
}

func TestSetPerformanceModeSecure(t *testing.T) {
	SetPerformanceMode(PerfModeSecure)
	if fastCacheCapacity() != 16 {
		t.Errorf("secure mode cache size = %d, want 16", fastCacheCapacity())
	}
	if validationLevel.Load() != 2 {
		t.Errorf("secure mode validation level = %d, want 2", validationLevel.Load())
	}
	SetPerformanceMode(PerfModeBalanced)
}

func TestTuneParametersRejectsOutOfRange(t *testing.T) {
	SetPerformanceMode(PerfModeBalanced)
	before := fastCacheCapacity()
	TuneParameters(0, 0, 100, 64) // cacheSize=0 is invalid, must be ignored
	if fastCacheCapacity() != before {
		t.Errorf("cache size changed on invalid input: got %d, want unchanged %d", fastCacheCapacity(), before)
	}
}

func TestTuneParametersAppliesValidValues(t *testing.T) {
	TuneParameters(2, 100, 500, 2048)
	if fastCacheCapacity() != 100 {
		t.Errorf("cache size = %d, want 100", fastCacheCapacity())
	}
	if coalesceThreshold() != 500 {
		t.Errorf("coalesce threshold = %d, want 500", coalesceThreshold())
	}
	SetPerformanceMode(PerfModeBalanced)
}
