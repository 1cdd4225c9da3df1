package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github-maintainer/internal/common"
	"github-maintainer/internal/domain"
	"github-maintainer/internal/observe"
	"github-maintainer/internal/port"
)

// Run states. Aborted is reachable from any state on an authentication
// failure or context cancellation.
const (
	StateCreated               = "created"
	StateFetchingRepos         = "fetching_repos"
	StateAnalyzing             = "analyzing"
	StateGeneratingSuggestions = "generating_suggestions"
	StateAwaitingApproval      = "awaiting_approval"
	StateCreatingIssues        = "creating_issues"
	StateFinalized             = "finalized"
	StateAborted               = "aborted"
)

const defaultConcurrency = 5

// Orchestrator sequences one full maintenance run: list repositories, analyze
// them under bounded concurrency, generate and rank suggestions, pass them
// through the approval gate, file issues sequentially, and close out the
// report. It owns no business logic beyond sequencing and failure isolation.
type Orchestrator struct {
	host        port.RepoHost
	analyzer    port.Analyzer
	suggester   port.Suggester
	filer       port.IssueFiler
	store       port.Store
	metrics     *observe.Collector
	log         *zap.Logger
	concurrency int64
	nowFunc     func() time.Time
	idFunc      func() string
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithConcurrency bounds the analysis fan-out.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = int64(n)
		}
	}
}

// WithMetrics attaches the run collector.
func WithMetrics(m *observe.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNow injects the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = fn }
}

// WithRunID injects the run id source, for tests.
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) { o.idFunc = fn }
}

func New(host port.RepoHost, analyzer port.Analyzer, suggester port.Suggester, filer port.IssueFiler, store port.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		host:        host,
		analyzer:    analyzer,
		suggester:   suggester,
		filer:       filer,
		store:       store,
		metrics:     observe.NewCollector(),
		log:         zap.NewNop(),
		concurrency: defaultConcurrency,
		nowFunc:     time.Now,
		idFunc:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAnalysis drives one run end to end and always returns a report, even when
// it also returns an error. prefs may be nil: stored preferences for the user
// are used, falling back to the manual-approval defaults.
func (o *Orchestrator) RunAnalysis(ctx context.Context, username string, filters domain.RepositoryFilters, prefs *domain.UserPreferences, sink port.ProgressSink, gate port.ApprovalGate) (*domain.RunReport, error) {
	if sink == nil {
		sink = observe.NopSink{}
	}
	now := o.nowFunc()
	o.metrics.Start(now)

	report := &domain.RunReport{
		RunID:     o.idFunc(),
		Username:  username,
		State:     StateCreated,
		StartedAt: now,
	}
	o.emit(sink, report, StateCreated, fmt.Sprintf("run %s created for %s", report.RunID, username), 0, 0)

	resolved, err := o.resolvePreferences(ctx, username, prefs)
	if err != nil {
		return o.finalize(report, sink, StateAborted), err
	}

	// FetchingRepos
	o.emit(sink, report, StateFetchingRepos, "listing repositories", 0, 0)
	repos, err := o.host.ListRepositories(ctx, username, filters)
	if err != nil {
		// The failure predates any per-repository work, so the entry is
		// keyed by the account whose listing failed.
		report.Errors = append(report.Errors, domain.RunError{
			RepositoryRef: username,
			Kind:          string(common.KindOf(err)),
		})
		o.metrics.Error()
		if common.IsAuth(err) {
			return o.finalize(report, sink, StateAborted), err
		}
		return o.finalize(report, sink, StateFinalized), err
	}
	o.metrics.ReposListed(len(repos))
	o.log.Info("repositories listed", zap.String("user", username), zap.Int("count", len(repos)))

	// Analyzing: bounded fan-out, full barrier before the next stage.
	o.emit(sink, report, StateAnalyzing, "analyzing repositories", 0, len(repos))
	profiles, runErrors, fatal := o.analyzeAll(ctx, repos, sink, report)
	report.Profiles = profiles
	report.Errors = append(report.Errors, runErrors...)
	if fatal != nil {
		return o.finalize(report, sink, StateAborted), fatal
	}
	if err := ctx.Err(); err != nil {
		return o.finalize(report, sink, StateAborted), err
	}

	// GeneratingSuggestions
	o.emit(sink, report, StateGeneratingSuggestions, "generating suggestions", 0, len(profiles))
	suggestions, err := o.suggester.Generate(ctx, profiles, resolved)
	if err != nil {
		o.metrics.Error()
		return o.finalize(report, sink, StateAborted), err
	}
	report.Suggestions = suggestions

	// AwaitingApproval
	o.emit(sink, report, StateAwaitingApproval, fmt.Sprintf("%d suggestions awaiting approval", len(suggestions)), 0, len(suggestions))
	approved, err := o.approve(ctx, suggestions, resolved, gate)
	if err != nil {
		return o.finalize(report, sink, StateAborted), err
	}

	// CreatingIssues: sequential, the issue budget is shared and small.
	o.emit(sink, report, StateCreatingIssues, "creating issues", 0, len(approved))
	for i, s := range approved {
		if err := ctx.Err(); err != nil {
			return o.finalize(report, sink, StateAborted), err
		}
		result, err := o.filer.File(ctx, s, resolved)
		report.IssueResults = append(report.IssueResults, result)
		if err != nil {
			o.metrics.Error()
			return o.finalize(report, sink, StateAborted), err
		}
		if result.Success {
			o.metrics.IssueCreated()
		} else {
			o.metrics.Error()
		}
		o.emit(sink, report, StateCreatingIssues,
			fmt.Sprintf("issue %d/%d for %s", i+1, len(approved), s.RepositoryRef), i+1, len(approved))
	}

	return o.finalize(report, sink, StateFinalized), nil
}

// analyzeAll fans the analysis units out under the concurrency bound and
// waits for every one of them. A unit failure is recorded against its
// repository and never touches the siblings; an authentication failure
// cancels the remaining units and aborts the run.
func (o *Orchestrator) analyzeAll(ctx context.Context, repos []domain.RepositoryDescriptor, sink port.ProgressSink, report *domain.RunReport) ([]domain.RepositoryProfile, []domain.RunError, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(o.concurrency)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		profiles  []domain.RepositoryProfile
		runErrors []domain.RunError
		fatal     error
		done      int
	)

	for _, desc := range repos {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(desc domain.RepositoryDescriptor) {
			defer wg.Done()
			defer sem.Release(1)

			profile, err := o.analyzer.Analyze(runCtx, desc)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				o.metrics.Error()
				runErrors = append(runErrors, domain.RunError{
					RepositoryRef: desc.FullName,
					Kind:          string(common.KindOf(err)),
				})
				o.log.Warn("repository analysis failed",
					zap.String("repository", desc.FullName),
					zap.String("kind", string(common.KindOf(err))),
					zap.Error(err))
				if common.IsAuth(err) && fatal == nil {
					fatal = err
					cancel()
				}
			} else {
				profiles = append(profiles, *profile)
			}
			o.emit(sink, report, StateAnalyzing,
				fmt.Sprintf("analyzed %s", desc.FullName), done, len(repos))
		}(desc)
	}
	wg.Wait()

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Descriptor.FullName < profiles[j].Descriptor.FullName
	})
	sort.Slice(runErrors, func(i, j int) bool {
		return runErrors[i].RepositoryRef < runErrors[j].RepositoryRef
	})
	return profiles, runErrors, fatal
}

// resolvePreferences picks explicit preferences, then stored ones, then the
// defaults, validating whatever wins.
func (o *Orchestrator) resolvePreferences(ctx context.Context, username string, prefs *domain.UserPreferences) (domain.UserPreferences, error) {
	if prefs != nil {
		if err := prefs.Validate(); err != nil {
			return domain.UserPreferences{}, err
		}
		return *prefs, nil
	}
	stored, err := o.store.LoadPreferences(ctx, username)
	if err != nil {
		o.log.Warn("stored preferences unavailable, using defaults",
			zap.String("user", username), zap.Error(err))
	}
	if stored != nil {
		return *stored, nil
	}
	return domain.DefaultPreferences(username), nil
}

// approve routes the ranked list through the gate. Auto mode bypasses the
// gate entirely; a missing gate approves everything with a warning.
func (o *Orchestrator) approve(ctx context.Context, ranked []domain.MaintenanceSuggestion, prefs domain.UserPreferences, gate port.ApprovalGate) ([]domain.MaintenanceSuggestion, error) {
	if len(ranked) == 0 {
		return nil, nil
	}
	if prefs.AutomationLevel == domain.AutomationAuto {
		return ranked, nil
	}
	if gate == nil {
		o.log.Warn("no approval gate configured, approving all suggestions")
		return ranked, nil
	}
	return gate.Decide(ctx, ranked)
}

func (o *Orchestrator) finalize(report *domain.RunReport, sink port.ProgressSink, state string) *domain.RunReport {
	now := o.nowFunc()
	report.State = state
	report.FinishedAt = now
	report.Metrics = o.metrics.Snapshot(now)
	o.emit(sink, report, state,
		fmt.Sprintf("run %s %s: %d profiles, %d suggestions, %d issues, %d errors",
			report.RunID, state, len(report.Profiles), len(report.Suggestions),
			len(report.IssueResults), len(report.Errors)),
		0, 0)
	return report
}

func (o *Orchestrator) emit(sink port.ProgressSink, report *domain.RunReport, stage, message string, current, total int) {
	report.State = stage
	sink.Emit(domain.ProgressEvent{
		Stage:     stage,
		Message:   message,
		Current:   current,
		Total:     total,
		Timestamp: o.nowFunc(),
	})
}

// AutoApproveGate approves every ranked suggestion unchanged.
type AutoApproveGate struct{}

func (AutoApproveGate) Decide(_ context.Context, ranked []domain.MaintenanceSuggestion) ([]domain.MaintenanceSuggestion, error) {
	return ranked, nil
}

// GateFunc adapts a function into an ApprovalGate.
type GateFunc func(ctx context.Context, ranked []domain.MaintenanceSuggestion) ([]domain.MaintenanceSuggestion, error)

func (f GateFunc) Decide(ctx context.Context, ranked []domain.MaintenanceSuggestion) ([]domain.MaintenanceSuggestion, error) {
	return f(ctx, ranked)
}
