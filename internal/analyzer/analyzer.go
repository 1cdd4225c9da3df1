package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github-maintainer/internal/common"
	"github-maintainer/internal/domain"
	"github-maintainer/internal/observe"
	"github-maintainer/internal/port"
)

const analysisVersion = "1"

// Limits caps how much fetched content goes into the generation prompt.
type Limits struct {
	ReadmeChars  int
	MaxFiles     int
	MaxLanguages int
}

// DefaultLimits keeps the compacted context comfortably inside prompt bounds.
func DefaultLimits() Limits {
	return Limits{ReadmeChars: 2000, MaxFiles: 50, MaxLanguages: 3}
}

// Unit runs the per-repository analysis: fetch overview and history, compact
// them into a generation context, ask for a health assessment, and fall back
// to the deterministic heuristic when generation fails. The resulting profile
// is persisted best-effort and returned either way.
type Unit struct {
	host    port.RepoHost
	gen     port.Generator
	store   port.Store
	log     *zap.Logger
	metrics *observe.Collector
	limits  Limits
	nowFunc func() time.Time
}

// Option configures the unit.
type Option func(*Unit)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(u *Unit) { u.log = log }
}

// WithLimits overrides the context compaction caps.
func WithLimits(l Limits) Option {
	return func(u *Unit) { u.limits = l }
}

// WithMetrics attaches the run collector.
func WithMetrics(m *observe.Collector) Option {
	return func(u *Unit) { u.metrics = m }
}

// WithNow injects the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(u *Unit) { u.nowFunc = fn }
}

func New(host port.RepoHost, gen port.Generator, store port.Store, opts ...Option) *Unit {
	u := &Unit{
		host:    host,
		gen:     gen,
		store:   store,
		log:     zap.NewNop(),
		metrics: observe.NewCollector(),
		limits:  DefaultLimits(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

var _ port.Analyzer = (*Unit)(nil)

// Analyze produces one immutable profile for the repository. Fetch failures
// propagate to the caller; generation failures of any kind are absorbed by the
// deterministic fallback.
func (u *Unit) Analyze(ctx context.Context, desc domain.RepositoryDescriptor) (*domain.RepositoryProfile, error) {
	overview, err := u.host.GetOverview(ctx, desc)
	if err != nil {
		return nil, err
	}
	history, err := u.host.GetHistory(ctx, desc)
	if err != nil {
		return nil, err
	}

	rc := u.compact(desc, overview, history)

	assessment := &domain.HealthAssessment{}
	err = u.gen.GenerateStructured(ctx, healthPrompt(rc), assessment)
	if err != nil {
		if common.IsAuth(err) {
			return nil, err
		}
		u.log.Warn("health generation failed, using heuristic fallback",
			zap.String("repository", desc.FullName),
			zap.String("kind", string(common.KindOf(err))),
			zap.Error(err))
		u.metrics.FallbackUsed()
		assessment = fallbackAssessment(rc)
	}

	profile := &domain.RepositoryProfile{
		Descriptor:      desc,
		Health:          assessment.Snapshot(),
		Summary:         assessment.Summary,
		TechStack:       assessment.TechStack,
		LastAnalyzed:    u.nowFunc(),
		AnalysisVersion: analysisVersion,
	}
	if len(profile.TechStack) == 0 {
		profile.TechStack = rc.TopLanguages
	}

	if err := u.store.SaveProfile(ctx, profile); err != nil {
		// The profile still feeds this run; only the cached copy is stale.
		u.log.Warn("profile persistence failed",
			zap.String("repository", desc.FullName), zap.Error(err))
	}

	u.metrics.RepoAnalyzed()
	return profile, nil
}

// compact reduces the raw fetched content to the bounded context the prompt
// and the fallback both read.
func (u *Unit) compact(desc domain.RepositoryDescriptor, ov *domain.RepositoryOverview, h *domain.RepositoryHistory) domain.RepositoryContext {
	excerpt := truncateRunes(ov.Readme, u.limits.ReadmeChars)

	files := ov.Files
	if len(files) > u.limits.MaxFiles {
		files = files[:u.limits.MaxFiles]
	}

	days := -1
	if !h.LastCommitDate.IsZero() {
		days = int(u.nowFunc().Sub(h.LastCommitDate).Hours() / 24)
	}

	return domain.RepositoryContext{
		FullName:        desc.FullName,
		ReadmeExcerpt:   excerpt,
		HasReadme:       ov.HasReadme,
		Files:           files,
		TopLanguages:    topLanguages(ov.Languages, u.limits.MaxLanguages),
		HasCI:           ov.HasCI,
		HasTests:        ov.HasTests,
		HasContributing: ov.HasContributing,
		DaysSinceCommit: days,
		CommitCount:     h.CommitCount,
		Contributors:    h.Contributors,
		OpenIssues:      h.OpenIssues,
		ClosedIssues:    h.ClosedIssues,
		OpenPRs:         h.OpenPRs,
	}
}

// truncateRunes cuts s to at most n bytes without splitting a multibyte rune,
// so the prompt never carries invalid UTF-8.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func topLanguages(langs map[string]int, max int) []string {
	type lang struct {
		name  string
		bytes int
	}
	sorted := make([]lang, 0, len(langs))
	for name, b := range langs {
		sorted = append(sorted, lang{name, b})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].bytes != sorted[j].bytes {
			return sorted[i].bytes > sorted[j].bytes
		}
		return sorted[i].name < sorted[j].name
	})
	if len(sorted) > max {
		sorted = sorted[:max]
	}
	out := make([]string, len(sorted))
	for i, l := range sorted {
		out[i] = l.name
	}
	return out
}

func healthPrompt(rc domain.RepositoryContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a software maintenance expert. Assess the health of the repository %s.\n\n", rc.FullName)
	fmt.Fprintf(&b, "Days since last commit: %d\n", rc.DaysSinceCommit)
	fmt.Fprintf(&b, "Commits fetched: %d, contributors: %d\n", rc.CommitCount, rc.Contributors)
	fmt.Fprintf(&b, "Open issues: %d, closed issues: %d, open PRs: %d\n", rc.OpenIssues, rc.ClosedIssues, rc.OpenPRs)
	fmt.Fprintf(&b, "Has tests: %t, has CI config: %t, has CONTRIBUTING: %t, has README: %t\n", rc.HasTests, rc.HasCI, rc.HasContributing, rc.HasReadme)
	if len(rc.TopLanguages) > 0 {
		fmt.Fprintf(&b, "Main languages: %s\n", strings.Join(rc.TopLanguages, ", "))
	}
	if len(rc.Files) > 0 {
		fmt.Fprintf(&b, "Top-level files: %s\n", strings.Join(rc.Files, ", "))
	}
	if rc.ReadmeExcerpt != "" {
		fmt.Fprintf(&b, "\nREADME excerpt:\n%s\n", rc.ReadmeExcerpt)
	}
	b.WriteString(`
Return strictly a JSON object with these fields:
- activity_level: one of "active", "moderate", "stale", "abandoned"
- test_coverage: one of "good", "partial", "none", "unknown"
- documentation_quality: one of "excellent", "good", "basic", "poor"
- ci_cd_status: one of "configured", "missing"
- dependency_status: one of "current", "outdated", "unknown"
- overall_health_score: a number between 0 and 1
- issues_identified: an array of short strings naming concrete problems
- summary: one sentence describing the repository state
- tech_stack: an array of technologies in use

Return only the JSON object, no markdown fences.
`)
	return b.String()
}

// Heuristic weights for the fallback score. They sum to 1.
const (
	weightActivity     = 0.30
	weightTests        = 0.25
	weightDocs         = 0.20
	weightCI           = 0.15
	weightContributors = 0.10
)

// fallbackAssessment derives the assessment from the fetched signals alone.
// Same context in, same assessment out.
func fallbackAssessment(rc domain.RepositoryContext) *domain.HealthAssessment {
	activity := activityLevel(rc.DaysSinceCommit)
	coverage := coverageLevel(rc)
	docs := docLevel(rc)
	ci := domain.CIMissing
	if rc.HasCI {
		ci = domain.CIConfigured
	}

	score := weightActivity*activityScore(activity) +
		weightTests*coverageScore(coverage) +
		weightDocs*docScore(docs) +
		weightCI*ciScore(ci) +
		weightContributors*contributorScore(rc.Contributors)

	return &domain.HealthAssessment{
		ActivityLevel:      activity,
		TestCoverage:       coverage,
		Documentation:      docs,
		CIStatus:           ci,
		DependencyStatus:   domain.DepsUnknown,
		OverallHealthScore: score,
		IssuesIdentified:   fallbackIssues(rc, activity, docs),
		Summary:            fallbackSummary(rc, activity),
		TechStack:          rc.TopLanguages,
	}
}

func activityLevel(daysSinceCommit int) domain.ActivityLevel {
	switch {
	case daysSinceCommit < 0:
		return domain.ActivityAbandoned
	case daysSinceCommit < 30:
		return domain.ActivityActive
	case daysSinceCommit < 90:
		return domain.ActivityModerate
	case daysSinceCommit < 180:
		return domain.ActivityStale
	default:
		return domain.ActivityAbandoned
	}
}

func coverageLevel(rc domain.RepositoryContext) domain.CoverageLevel {
	switch {
	case rc.HasTests && rc.HasCI:
		return domain.CoverageGood
	case rc.HasTests:
		return domain.CoveragePartial
	default:
		return domain.CoverageNone
	}
}

func docLevel(rc domain.RepositoryContext) domain.DocLevel {
	switch {
	case !rc.HasReadme:
		return domain.DocPoor
	case len(rc.ReadmeExcerpt) > 1000 && rc.HasContributing:
		return domain.DocExcellent
	case len(rc.ReadmeExcerpt) > 500:
		return domain.DocGood
	default:
		return domain.DocBasic
	}
}

func activityScore(level domain.ActivityLevel) float64 {
	switch level {
	case domain.ActivityActive:
		return 1.0
	case domain.ActivityModerate:
		return 0.7
	case domain.ActivityStale:
		return 0.4
	default:
		return 0.1
	}
}

func coverageScore(level domain.CoverageLevel) float64 {
	switch level {
	case domain.CoverageGood:
		return 1.0
	case domain.CoveragePartial:
		return 0.6
	default:
		return 0.0
	}
}

func docScore(level domain.DocLevel) float64 {
	switch level {
	case domain.DocExcellent:
		return 1.0
	case domain.DocGood:
		return 0.7
	case domain.DocBasic:
		return 0.4
	default:
		return 0.1
	}
}

func ciScore(status domain.CIStatus) float64 {
	if status == domain.CIConfigured {
		return 1.0
	}
	return 0.0
}

func contributorScore(n int) float64 {
	switch {
	case n > 10:
		return 1.0
	case n > 3:
		return 0.7
	case n > 1:
		return 0.4
	default:
		return 0.2
	}
}

func fallbackIssues(rc domain.RepositoryContext, activity domain.ActivityLevel, docs domain.DocLevel) []string {
	var issues []string
	if !rc.HasTests {
		issues = append(issues, "no test suite detected")
	}
	if !rc.HasCI {
		issues = append(issues, "no CI configuration found")
	}
	if docs == domain.DocPoor || docs == domain.DocBasic {
		issues = append(issues, "documentation is thin")
	}
	if activity == domain.ActivityStale || activity == domain.ActivityAbandoned {
		issues = append(issues, "no recent commit activity")
	}
	return issues
}

func fallbackSummary(rc domain.RepositoryContext, activity domain.ActivityLevel) string {
	lang := "unspecified language"
	if len(rc.TopLanguages) > 0 {
		lang = rc.TopLanguages[0]
	}
	return fmt.Sprintf("%s repository %s, %s, assessed heuristically", lang, rc.FullName, activity)
}
