package suggester

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github-maintainer/internal/common"
	"github-maintainer/internal/domain"
	"github-maintainer/internal/observe"
	"github-maintainer/internal/port"
)

// Stage turns one run's profiles into a deduplicated, ranked suggestion list.
// It reads suggestion history from the store but never writes to it: dedup
// markers are written only after a successful issue creation.
type Stage struct {
	gen     port.Generator
	store   port.Store
	log     *zap.Logger
	metrics *observe.Collector
	idFunc  func() string
}

// Option configures the stage.
type Option func(*Stage)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Stage) { s.log = log }
}

// WithMetrics attaches the run collector.
func WithMetrics(m *observe.Collector) Option {
	return func(s *Stage) { s.metrics = m }
}

// WithIDFunc injects the suggestion id source, for tests.
func WithIDFunc(fn func() string) Option {
	return func(s *Stage) { s.idFunc = fn }
}

func New(gen port.Generator, store port.Store, opts ...Option) *Stage {
	s := &Stage{
		gen:     gen,
		store:   store,
		log:     zap.NewNop(),
		metrics: observe.NewCollector(),
		idFunc:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ port.Suggester = (*Stage)(nil)

// Generate produces the ranked suggestion list for the batch. Per-profile
// failures (history load, generation) degrade that profile's contribution
// rather than failing the batch; only authentication errors propagate.
func (s *Stage) Generate(ctx context.Context, profiles []domain.RepositoryProfile, prefs domain.UserPreferences) ([]domain.MaintenanceSuggestion, error) {
	var out []domain.MaintenanceSuggestion

	for _, profile := range profiles {
		ref := profile.Descriptor.FullName
		if prefs.Excludes(ref) {
			s.log.Debug("repository excluded by preferences", zap.String("repository", ref))
			continue
		}

		records, err := s.store.LoadSuggestionRecords(ctx, ref)
		if err != nil {
			// Without history we cannot dedup safely, so this repository
			// contributes nothing rather than risking duplicate issues.
			s.log.Warn("suggestion history unavailable, skipping repository",
				zap.String("repository", ref), zap.Error(err))
			continue
		}
		seen := make(map[string]struct{}, len(records))
		for _, rec := range records {
			seen[rec.NormalizedTitle] = struct{}{}
		}

		drafts, err := s.candidates(ctx, profile, prefs)
		if err != nil {
			return nil, err
		}

		for _, draft := range drafts {
			if err := draft.Validate(); err != nil {
				s.log.Warn("dropping invalid suggestion draft",
					zap.String("repository", ref), zap.Error(err))
				continue
			}
			key := domain.NormalizeTitle(draft.Title)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, domain.MaintenanceSuggestion{
				ID:              s.idFunc(),
				RepositoryRef:   ref,
				Category:        draft.Category,
				Priority:        draft.Priority,
				Title:           strings.TrimSpace(draft.Title),
				Description:     draft.Description,
				Rationale:       draft.Rationale,
				EstimatedEffort: draft.EstimatedEffort,
				Labels:          draft.Labels,
			})
		}
	}

	rank(out)
	s.metrics.SuggestionsGenerated(len(out))
	return out, nil
}

// candidates asks the generation service for drafts, falling back to the
// deterministic rule set when generation fails for any non-fatal reason.
func (s *Stage) candidates(ctx context.Context, profile domain.RepositoryProfile, prefs domain.UserPreferences) ([]domain.SuggestionDraft, error) {
	batch := &domain.SuggestionBatch{}
	err := s.gen.GenerateStructured(ctx, suggestionPrompt(profile, prefs), batch)
	if err == nil {
		return batch.Suggestions, nil
	}
	if common.IsAuth(err) {
		return nil, err
	}
	s.log.Warn("suggestion generation failed, using rule fallback",
		zap.String("repository", profile.Descriptor.FullName),
		zap.String("kind", string(common.KindOf(err))),
		zap.Error(err))
	s.metrics.FallbackUsed()
	return fallbackDrafts(profile), nil
}

func suggestionPrompt(profile domain.RepositoryProfile, prefs domain.UserPreferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a software maintenance expert. Propose maintenance tasks for the repository %s.\n\n", profile.Descriptor.FullName)
	fmt.Fprintf(&b, "Health summary: %s\n", profile.Summary)
	h := profile.Health
	fmt.Fprintf(&b, "Activity: %s, test coverage: %s, documentation: %s, CI: %s, dependencies: %s\n",
		h.ActivityLevel, h.TestCoverage, h.Documentation, h.CIStatus, h.DependencyStatus)
	fmt.Fprintf(&b, "Overall health score: %.2f\n", h.OverallHealthScore)
	if len(h.IssuesIdentified) > 0 {
		fmt.Fprintf(&b, "Known problems: %s\n", strings.Join(h.IssuesIdentified, "; "))
	}
	if len(profile.TechStack) > 0 {
		fmt.Fprintf(&b, "Tech stack: %s\n", strings.Join(profile.TechStack, ", "))
	}
	if len(prefs.FocusAreas) > 0 {
		fmt.Fprintf(&b, "\nThe maintainer cares most about: %s. Weight your proposals toward these areas.\n",
			strings.Join(prefs.FocusAreas, ", "))
	}
	b.WriteString(`
Return strictly a JSON object of the form:
{"suggestions": [{"category": "...", "priority": "...", "title": "...", "description": "...", "rationale": "...", "estimated_effort": "...", "labels": ["..."]}]}

Allowed values: category in bug|enhancement|documentation|refactor|security, priority in high|medium|low, estimated_effort in small|medium|large.
Propose at most 5 tasks. Return only the JSON object, no markdown fences.
`)
	return b.String()
}

// fallbackDrafts derives suggestions from profile weaknesses alone. Priority
// is high when the overall health score is below 0.5, medium otherwise.
func fallbackDrafts(profile domain.RepositoryProfile) []domain.SuggestionDraft {
	h := profile.Health
	priority := domain.PriorityMedium
	if h.OverallHealthScore < 0.5 {
		priority = domain.PriorityHigh
	}

	var drafts []domain.SuggestionDraft
	if h.TestCoverage == domain.CoverageNone {
		drafts = append(drafts, domain.SuggestionDraft{
			Category:        domain.CategoryEnhancement,
			Priority:        priority,
			Title:           "Add test suite",
			Description:     "The repository has no detectable automated tests. Add a test suite covering the core paths.",
			Rationale:       "Untested code makes every change risky and blocks confident refactoring.",
			EstimatedEffort: domain.EffortLarge,
			Labels:          []string{"testing"},
		})
	}
	if h.CIStatus == domain.CIMissing {
		drafts = append(drafts, domain.SuggestionDraft{
			Category:        domain.CategoryEnhancement,
			Priority:        priority,
			Title:           "Set up CI/CD pipeline",
			Description:     "No continuous-integration configuration was found. Add a pipeline that builds and tests on every push.",
			Rationale:       "CI catches regressions before they reach the default branch.",
			EstimatedEffort: domain.EffortMedium,
			Labels:          []string{"ci"},
		})
	}
	if h.Documentation == domain.DocPoor || h.Documentation == domain.DocBasic {
		drafts = append(drafts, domain.SuggestionDraft{
			Category:        domain.CategoryDocumentation,
			Priority:        priority,
			Title:           "Improve documentation",
			Description:     "The README is missing or minimal. Document what the project does, how to install it and how to contribute.",
			Rationale:       "Thin documentation turns away both users and contributors.",
			EstimatedEffort: domain.EffortMedium,
			Labels:          []string{"documentation"},
		})
	}
	if h.ActivityLevel == domain.ActivityStale || h.ActivityLevel == domain.ActivityAbandoned {
		drafts = append(drafts, domain.SuggestionDraft{
			Category:        domain.CategoryRefactor,
			Priority:        priority,
			Title:           "Review and update repository",
			Description:     "The repository has seen no recent commits. Review open issues, refresh dependencies and decide whether to archive.",
			Rationale:       "Dormant repositories accumulate security debt and stale dependencies.",
			EstimatedEffort: domain.EffortMedium,
			Labels:          []string{"maintenance"},
		})
	}
	return drafts
}

var priorityWeight = map[domain.Priority]float64{
	domain.PriorityHigh:   3,
	domain.PriorityMedium: 2,
	domain.PriorityLow:    1,
}

var categoryWeight = map[domain.Category]float64{
	domain.CategorySecurity:      5,
	domain.CategoryBug:           4,
	domain.CategoryEnhancement:   3,
	domain.CategoryDocumentation: 2,
	domain.CategoryRefactor:      1,
}

var effortWeight = map[domain.Effort]float64{
	domain.EffortSmall:  3,
	domain.EffortMedium: 2,
	domain.EffortLarge:  1,
}

// Score computes the deterministic priority score of a suggestion.
func Score(s domain.MaintenanceSuggestion) float64 {
	return (priorityWeight[s.Priority]*2 + categoryWeight[s.Category]) / effortWeight[s.EstimatedEffort]
}

// rank sorts descending by score, ties broken by ascending title.
func rank(suggestions []domain.MaintenanceSuggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		si, sj := Score(suggestions[i]), Score(suggestions[j])
		if si != sj {
			return si > sj
		}
		return suggestions[i].Title < suggestions[j].Title
	})
}
