package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github-maintainer/internal/domain"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	c.Start(start)

	c.ReposListed(5)
	c.RepoAnalyzed()
	c.RepoAnalyzed()
	c.SuggestionsGenerated(3)
	c.IssueCreated()
	c.APICall()
	c.GenerationCall()
	c.Retry()
	c.FallbackUsed()
	c.Error()

	m := c.Snapshot(start.Add(2 * time.Second))
	assert.Equal(t, 5, m.ReposListed)
	assert.Equal(t, 2, m.ReposAnalyzed)
	assert.Equal(t, 3, m.SuggestionsGenerated)
	assert.Equal(t, 1, m.IssuesCreated)
	assert.Equal(t, 1, m.APICalls)
	assert.Equal(t, 1, m.GenerationCalls)
	assert.Equal(t, 1, m.Retries)
	assert.Equal(t, 1, m.FallbacksUsed)
	assert.Equal(t, 1, m.Errors)
	assert.Equal(t, 2*time.Second, m.Elapsed)
}

func TestCollectorStartResets(t *testing.T) {
	c := NewCollector()
	c.Start(time.Now())
	c.ReposListed(10)

	c.Start(time.Now())
	m := c.Snapshot(time.Now())
	assert.Equal(t, 0, m.ReposListed)
}

func TestCollectorConcurrentUpdates(t *testing.T) {
	c := NewCollector()
	c.Start(time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.APICall()
			c.Retry()
		}()
	}
	wg.Wait()

	m := c.Snapshot(time.Now())
	assert.Equal(t, 50, m.APICalls)
	assert.Equal(t, 50, m.Retries)
}

func TestSinkFuncAndNopSink(t *testing.T) {
	var got []domain.ProgressEvent
	sink := SinkFunc(func(e domain.ProgressEvent) { got = append(got, e) })
	sink.Emit(domain.ProgressEvent{Stage: "analyzing", Current: 1, Total: 5})
	assert.Len(t, got, 1)
	assert.Equal(t, "analyzing", got[0].Stage)

	NopSink{}.Emit(domain.ProgressEvent{Stage: "ignored"})
}

func TestLogSinkEmitsWithoutPanic(t *testing.T) {
	sink := NewLogSink(zap.NewNop())
	sink.Emit(domain.ProgressEvent{
		Stage: "creating_issues", Message: "issue 1/3", Current: 1, Total: 3, Timestamp: time.Now(),
	})
}
