package metrics

import (
	"sync"
	"time"
)

type fakeMetrics struct {
	mu        sync.Mutex
	counters  map[string]int
	gauges    map[string]int
	durations map[string][]time.Duration
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		counters:  make(map[string]int),
		gauges:    make(map[string]int),
		durations: make(map[string][]time.Duration),
	}
}

func (f *fakeMetrics) Increment(metric string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[metric]++
}

func (f *fakeMetrics) Duration(metric string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[metric] = append(f.durations[metric], d)
}

func (f *fakeMetrics) Gauge(metric string, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gauges[metric] = value
}
