package observe

import (
	"sync"
	"time"

	"github-maintainer/internal/domain"
)

// Collector accumulates run counters. It is shared by every concurrent unit
// of a run, so all updates go through the mutex. One collector serves one run:
// Start resets it, Snapshot closes it out.
type Collector struct {
	mu sync.Mutex

	startedAt time.Time
	metrics   domain.RunMetrics
}

func NewCollector() *Collector {
	return &Collector{}
}

// Start resets all counters and marks the beginning of a run.
func (c *Collector) Start(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedAt = now
	c.metrics = domain.RunMetrics{}
}

func (c *Collector) add(fn func(*domain.RunMetrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.metrics)
}

func (c *Collector) ReposListed(n int) {
	c.add(func(m *domain.RunMetrics) { m.ReposListed += n })
}

func (c *Collector) RepoAnalyzed() {
	c.add(func(m *domain.RunMetrics) { m.ReposAnalyzed++ })
}

func (c *Collector) SuggestionsGenerated(n int) {
	c.add(func(m *domain.RunMetrics) { m.SuggestionsGenerated += n })
}

func (c *Collector) IssueCreated() {
	c.add(func(m *domain.RunMetrics) { m.IssuesCreated++ })
}

func (c *Collector) APICall() {
	c.add(func(m *domain.RunMetrics) { m.APICalls++ })
}

func (c *Collector) GenerationCall() {
	c.add(func(m *domain.RunMetrics) { m.GenerationCalls++ })
}

func (c *Collector) Retry() {
	c.add(func(m *domain.RunMetrics) { m.Retries++ })
}

func (c *Collector) FallbackUsed() {
	c.add(func(m *domain.RunMetrics) { m.FallbacksUsed++ })
}

func (c *Collector) Error() {
	c.add(func(m *domain.RunMetrics) { m.Errors++ })
}

// Snapshot returns the counters with elapsed time computed against now.
func (c *Collector) Snapshot(now time.Time) domain.RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	if !c.startedAt.IsZero() {
		m.Elapsed = now.Sub(c.startedAt)
	}
	return m
}
