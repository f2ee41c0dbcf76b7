package o11y

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the metrics held by a MemoryProvider.
type Snapshot struct {
	Timestamp  time.Time            `json:"timestamp"`
	Counters   map[string]int64     `json:"counters"`
	Histograms map[string][]float64 `json:"histograms"`
	Gauges     map[string]float64   `json:"gauges"`
}

// MemoryProvider keeps metrics in process. Labels are accepted but not
// partitioned on. It backs the CLI status output and tests.
type MemoryProvider struct {
	counters   sync.Map // map[string]*memoryCounter
	histograms sync.Map // map[string]*memoryHistogram
	gauges     sync.Map // map[string]*memoryGauge
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

// Snapshot collects the current metric values.
func (p *MemoryProvider) Snapshot() Snapshot {
	snapshot := Snapshot{
		Timestamp:  time.Now(),
		Counters:   make(map[string]int64),
		Histograms: make(map[string][]float64),
		Gauges:     make(map[string]float64),
	}

	p.counters.Range(func(key, value any) bool {
		snapshot.Counters[key.(string)] = atomic.LoadInt64(&value.(*memoryCounter).value)
		return true
	})

	p.histograms.Range(func(key, value any) bool {
		histogram := value.(*memoryHistogram)
		histogram.mu.RLock()
		values := make([]float64, len(histogram.values))
		copy(values, histogram.values)
		histogram.mu.RUnlock()
		snapshot.Histograms[key.(string)] = values
		return true
	})

	p.gauges.Range(func(key, value any) bool {
		snapshot.Gauges[key.(string)] = value.(*memoryGauge).getValue()
		return true
	})

	return snapshot
}

func (p *MemoryProvider) Counter(name string) Counter {
	if existing, ok := p.counters.Load(name); ok {
		return existing.(*memoryCounter)
	}
	actual, _ := p.counters.LoadOrStore(name, &memoryCounter{})
	return actual.(*memoryCounter)
}

func (p *MemoryProvider) Histogram(name string) Histogram {
	if existing, ok := p.histograms.Load(name); ok {
		return existing.(*memoryHistogram)
	}
	actual, _ := p.histograms.LoadOrStore(name, &memoryHistogram{})
	return actual.(*memoryHistogram)
}

func (p *MemoryProvider) Gauge(name string) Gauge {
	if existing, ok := p.gauges.Load(name); ok {
		return existing.(*memoryGauge)
	}
	actual, _ := p.gauges.LoadOrStore(name, &memoryGauge{})
	return actual.(*memoryGauge)
}

type memoryCounter struct {
	value int64
}

func (c *memoryCounter) Add(ctx context.Context, value int64, labels ...Label) {
	atomic.AddInt64(&c.value, value)
}

type memoryHistogram struct {
	mu     sync.RWMutex
	values []float64
}

func (h *memoryHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	h.mu.Lock()
	h.values = append(h.values, value)
	h.mu.Unlock()
}

type memoryGauge struct {
	mu    sync.RWMutex
	value float64
}

func (g *memoryGauge) Set(ctx context.Context, value float64, labels ...Label) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}

func (g *memoryGauge) getValue() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}
