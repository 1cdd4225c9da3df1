package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActivityLevel describes how recently a repository has seen commits.
type ActivityLevel string

const (
	ActivityActive    ActivityLevel = "active"
	ActivityModerate  ActivityLevel = "moderate"
	ActivityStale     ActivityLevel = "stale"
	ActivityAbandoned ActivityLevel = "abandoned"
)

// CoverageLevel describes the observed state of a repository's test suite.
type CoverageLevel string

const (
	CoverageGood    CoverageLevel = "good"
	CoveragePartial CoverageLevel = "partial"
	CoverageNone    CoverageLevel = "none"
	CoverageUnknown CoverageLevel = "unknown"
)

// DocLevel describes documentation quality.
type DocLevel string

const (
	DocExcellent DocLevel = "excellent"
	DocGood      DocLevel = "good"
	DocBasic     DocLevel = "basic"
	DocPoor      DocLevel = "poor"
)

// CIStatus reports whether CI configuration was found.
type CIStatus string

const (
	CIConfigured CIStatus = "configured"
	CIMissing    CIStatus = "missing"
)

// DependencyStatus describes dependency freshness.
type DependencyStatus string

const (
	DepsCurrent  DependencyStatus = "current"
	DepsOutdated DependencyStatus = "outdated"
	DepsUnknown  DependencyStatus = "unknown"
)

// Category classifies a maintenance suggestion.
type Category string

const (
	CategoryBug           Category = "bug"
	CategoryEnhancement   Category = "enhancement"
	CategoryDocumentation Category = "documentation"
	CategoryRefactor      Category = "refactor"
	CategorySecurity      Category = "security"
)

// Priority ranks a suggestion's urgency.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Effort estimates the work a suggestion implies.
type Effort string

const (
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
)

// AutomationLevel controls whether suggestions need explicit approval.
type AutomationLevel string

const (
	AutomationAuto   AutomationLevel = "auto"
	AutomationManual AutomationLevel = "manual"
	AutomationAsk    AutomationLevel = "ask"
)

func oneOf[T ~string](v T, allowed ...T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// RepositoryDescriptor identifies one repository within a run. Immutable once
// fetched.
type RepositoryDescriptor struct {
	FullName      string    `json:"full_name"` // "owner/name"
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	DefaultBranch string    `json:"default_branch"`
	Visibility    string    `json:"visibility"` // public, private
	Language      string    `json:"language"`
	Archived      bool      `json:"archived"`
	OpenIssues    int       `json:"open_issues"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d RepositoryDescriptor) Validate() error {
	if d.FullName == "" {
		return fmt.Errorf("descriptor: full_name cannot be empty")
	}
	if d.Owner == "" || d.Name == "" {
		return fmt.Errorf("descriptor %s: owner and name cannot be empty", d.FullName)
	}
	if !oneOf(d.Visibility, "public", "private") {
		return fmt.Errorf("descriptor %s: invalid visibility %q", d.FullName, d.Visibility)
	}
	return nil
}

// RepositoryFilters narrows the repository list fetched at the start of a run.
// Zero values mean "no constraint".
type RepositoryFilters struct {
	UpdatedSince    time.Time
	Language        string
	Visibility      string // "", public, private
	IncludeArchived bool
}

// Matches reports whether a descriptor passes the filter set.
func (f RepositoryFilters) Matches(d RepositoryDescriptor) bool {
	if !f.IncludeArchived && d.Archived {
		return false
	}
	if !f.UpdatedSince.IsZero() && d.UpdatedAt.Before(f.UpdatedSince) {
		return false
	}
	if f.Language != "" && !strings.EqualFold(f.Language, d.Language) {
		return false
	}
	if f.Visibility != "" && f.Visibility != d.Visibility {
		return false
	}
	return true
}

// CommitSummary is one entry of a repository's recent history.
type CommitSummary struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// RepositoryOverview is the raw content fetched for one repository before
// compaction.
type RepositoryOverview struct {
	Descriptor      RepositoryDescriptor
	Readme          string
	HasReadme       bool
	Files           []string
	Languages       map[string]int // language -> bytes
	HasCI           bool
	HasTests        bool
	HasContributing bool
}

// RepositoryHistory is the raw activity data fetched for one repository.
type RepositoryHistory struct {
	CommitCount    int
	LastCommitDate time.Time
	RecentCommits  []CommitSummary
	OpenIssues     int
	ClosedIssues   int
	OpenPRs        int
	Contributors   int
}

// RepositoryContext is the compacted generation input. Never persisted.
type RepositoryContext struct {
	FullName        string
	ReadmeExcerpt   string
	HasReadme       bool
	Files           []string
	TopLanguages    []string
	HasCI           bool
	HasTests        bool
	HasContributing bool
	DaysSinceCommit int
	CommitCount     int
	Contributors    int
	OpenIssues      int
	ClosedIssues    int
	OpenPRs         int
}

// HealthSnapshot is a point-in-time structured assessment of a repository.
// Produced once per analysis, immutable.
type HealthSnapshot struct {
	ActivityLevel      ActivityLevel    `json:"activity_level"`
	TestCoverage       CoverageLevel    `json:"test_coverage"`
	Documentation      DocLevel         `json:"documentation_quality"`
	CIStatus           CIStatus         `json:"ci_cd_status"`
	DependencyStatus   DependencyStatus `json:"dependency_status"`
	OverallHealthScore float64          `json:"overall_health_score"`
	IssuesIdentified   []string         `json:"issues_identified"`
}

func (h HealthSnapshot) Validate() error {
	if !oneOf(h.ActivityLevel, ActivityActive, ActivityModerate, ActivityStale, ActivityAbandoned) {
		return fmt.Errorf("health: invalid activity_level %q", h.ActivityLevel)
	}
	if !oneOf(h.TestCoverage, CoverageGood, CoveragePartial, CoverageNone, CoverageUnknown) {
		return fmt.Errorf("health: invalid test_coverage %q", h.TestCoverage)
	}
	if !oneOf(h.Documentation, DocExcellent, DocGood, DocBasic, DocPoor) {
		return fmt.Errorf("health: invalid documentation_quality %q", h.Documentation)
	}
	if !oneOf(h.CIStatus, CIConfigured, CIMissing) {
		return fmt.Errorf("health: invalid ci_cd_status %q", h.CIStatus)
	}
	if !oneOf(h.DependencyStatus, DepsCurrent, DepsOutdated, DepsUnknown) {
		return fmt.Errorf("health: invalid dependency_status %q", h.DependencyStatus)
	}
	if h.OverallHealthScore < 0 || h.OverallHealthScore > 1 {
		return fmt.Errorf("health: overall_health_score %v out of [0,1]", h.OverallHealthScore)
	}
	return nil
}

// RepositoryProfile is the persisted unit combining a descriptor with its
// latest health snapshot. Superseded by a new profile on the next run, never
// mutated.
type RepositoryProfile struct {
	Descriptor      RepositoryDescriptor `json:"descriptor"`
	Health          HealthSnapshot       `json:"health"`
	Summary         string               `json:"summary"`
	TechStack       []string             `json:"tech_stack"`
	LastAnalyzed    time.Time            `json:"last_analyzed"`
	AnalysisVersion string               `json:"analysis_version"`
}

func (p RepositoryProfile) Validate() error {
	if err := p.Descriptor.Validate(); err != nil {
		return err
	}
	if err := p.Health.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", p.Descriptor.FullName, err)
	}
	if p.AnalysisVersion == "" {
		return fmt.Errorf("profile %s: analysis_version cannot be empty", p.Descriptor.FullName)
	}
	return nil
}

// MaintenanceSuggestion is an actionable maintenance task derived from a
// profile. Immutable once created.
type MaintenanceSuggestion struct {
	ID              string   `json:"id"`
	RepositoryRef   string   `json:"repository_ref"`
	Category        Category `json:"category"`
	Priority        Priority `json:"priority"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Rationale       string   `json:"rationale"`
	EstimatedEffort Effort   `json:"estimated_effort"`
	Labels          []string `json:"labels"`
}

func (s MaintenanceSuggestion) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("suggestion: id cannot be empty")
	}
	if s.RepositoryRef == "" {
		return fmt.Errorf("suggestion %s: repository_ref cannot be empty", s.ID)
	}
	if s.Title == "" {
		return fmt.Errorf("suggestion %s: title cannot be empty", s.ID)
	}
	if !oneOf(s.Category, CategoryBug, CategoryEnhancement, CategoryDocumentation, CategoryRefactor, CategorySecurity) {
		return fmt.Errorf("suggestion %q: invalid category %q", s.Title, s.Category)
	}
	if !oneOf(s.Priority, PriorityHigh, PriorityMedium, PriorityLow) {
		return fmt.Errorf("suggestion %q: invalid priority %q", s.Title, s.Priority)
	}
	if !oneOf(s.EstimatedEffort, EffortSmall, EffortMedium, EffortLarge) {
		return fmt.Errorf("suggestion %q: invalid estimated_effort %q", s.Title, s.EstimatedEffort)
	}
	return nil
}

// NormalizeTitle folds a suggestion title into its dedup form: case-fold plus
// trim. Equality on the result is exact, no fuzzy matching.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// SuggestionRecord is the persisted dedup marker proving a title was already
// filed for a repository. Written only after a successful issue creation.
type SuggestionRecord struct {
	RepositoryRef   string    `json:"repository_ref"`
	NormalizedTitle string    `json:"normalized_title"`
	Category        Category  `json:"category"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r SuggestionRecord) Validate() error {
	if r.RepositoryRef == "" {
		return fmt.Errorf("suggestion record: repository_ref cannot be empty")
	}
	if r.NormalizedTitle == "" {
		return fmt.Errorf("suggestion record for %s: normalized_title cannot be empty", r.RepositoryRef)
	}
	if r.NormalizedTitle != NormalizeTitle(r.NormalizedTitle) {
		return fmt.Errorf("suggestion record for %s: title %q is not normalized", r.RepositoryRef, r.NormalizedTitle)
	}
	return nil
}

// IssueRef points at a created remote issue.
type IssueRef struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

// IssueResult is the per-suggestion outcome of an issue-creation attempt.
type IssueResult struct {
	SuggestionID  string `json:"suggestion_id"`
	RepositoryRef string `json:"repository_ref"`
	Success       bool   `json:"success"`
	IssueURL      string `json:"issue_url,omitempty"`
	IssueNumber   int    `json:"issue_number,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// UserPreferences tunes a run. Validated at construction, immutable after.
type UserPreferences struct {
	UserID          string          `json:"user_id"`
	AutomationLevel AutomationLevel `json:"automation_level"`
	PreferredLabels []string        `json:"preferred_labels"`
	ExcludedRepos   []string        `json:"excluded_repos"`
	FocusAreas      []string        `json:"focus_areas"`
}

// DefaultPreferences returns the manual-approval defaults for a user.
func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{UserID: userID, AutomationLevel: AutomationManual}
}

func (p UserPreferences) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("preferences: user_id cannot be empty")
	}
	if !oneOf(p.AutomationLevel, AutomationAuto, AutomationManual, AutomationAsk) {
		return fmt.Errorf("preferences for %s: invalid automation_level %q", p.UserID, p.AutomationLevel)
	}
	return nil
}

// Excludes reports whether a repository is opted out of suggestion generation.
func (p UserPreferences) Excludes(repositoryRef string) bool {
	for _, r := range p.ExcludedRepos {
		if strings.EqualFold(r, repositoryRef) {
			return true
		}
	}
	return false
}

// ProgressEvent is emitted at every orchestrator stage transition.
type ProgressEvent struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// RunError pairs a repository with the kind of failure that skipped it.
type RunError struct {
	RepositoryRef string `json:"repository_ref"`
	Kind          string `json:"kind"`
}

// RunMetrics aggregates counters for one run.
type RunMetrics struct {
	ReposListed          int           `json:"repos_listed"`
	ReposAnalyzed        int           `json:"repos_analyzed"`
	SuggestionsGenerated int           `json:"suggestions_generated"`
	IssuesCreated        int           `json:"issues_created"`
	APICalls             int           `json:"api_calls"`
	GenerationCalls      int           `json:"generation_calls"`
	Retries              int           `json:"retries"`
	FallbacksUsed        int           `json:"fallbacks_used"`
	Errors               int           `json:"errors"`
	Elapsed              time.Duration `json:"elapsed"`
}

// RunReport is the final artifact of one orchestrated run. The run always
// completes with a report, even if every unit failed.
type RunReport struct {
	RunID        string                  `json:"run_id"`
	Username     string                  `json:"username"`
	State        string                  `json:"state"`
	Profiles     []RepositoryProfile     `json:"profiles"`
	Suggestions  []MaintenanceSuggestion `json:"suggestions"`
	IssueResults []IssueResult           `json:"issue_results"`
	Errors       []RunError              `json:"errors"`
	Metrics      RunMetrics              `json:"metrics"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
}
