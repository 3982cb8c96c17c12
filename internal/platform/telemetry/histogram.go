package telemetry

import (
	"math"
	"sync"
	"sync/atomic"
)

// Default bucket boundaries in seconds.
var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// series stores one histogram or counter per label set.
type series[T any] struct {
	mu      sync.RWMutex
	items   map[labelSet]T
	newItem func() T
}

// labelSet is a fixed-arity label tuple; unused slots stay empty.
type labelSet [3]string

func newSeries[T any](mk func() T) *series[T] {
	return &series[T]{items: make(map[labelSet]T), newItem: mk}
}

func (s *series[T]) get(labels labelSet) T {
	s.mu.RLock()
	v, ok := s.items[labels]
	s.mu.RUnlock()
	if ok {
		return v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok = s.items[labels]; !ok {
		v = s.newItem()
		s.items[labels] = v
	}
	return v
}

func (s *series[T]) snapshot() map[labelSet]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[labelSet]T, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}
