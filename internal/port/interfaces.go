package port

import (
	"context"
	"time"

	"github-maintainer/internal/domain"
)

// RepoHost is the rate-limited client for the repository-hosting API. Every
// method carries the auth token, retries transient failures, and short-circuits
// when the cached rate budget is exhausted.
type RepoHost interface {
	// ListRepositories returns the user's repositories after applying filters.
	ListRepositories(ctx context.Context, username string, filters domain.RepositoryFilters) ([]domain.RepositoryDescriptor, error)

	// GetOverview fetches readme, top-level files, language byte shares and
	// the CI/test/contributing presence flags.
	GetOverview(ctx context.Context, desc domain.RepositoryDescriptor) (*domain.RepositoryOverview, error)

	// GetHistory fetches commit summaries, issue/PR counts and contributors.
	GetHistory(ctx context.Context, desc domain.RepositoryDescriptor) (*domain.RepositoryHistory, error)

	// CreateIssue files a tracking issue and returns its reference.
	CreateIssue(ctx context.Context, repositoryRef, title, body string, labels []string) (*domain.IssueRef, error)

	// RateBudget exposes the locally cached remaining-call count and reset
	// time for the remote service.
	RateBudget() (remaining int, resetAt time.Time)
}

// Validatable is a generation payload that can check itself after decoding.
type Validatable interface {
	Validate() error
}

// Generator wraps the remote text-generation service. It parses the returned
// text into out and validates it; parse and schema failures surface as
// generation-parsing errors and are never retried.
type Generator interface {
	GenerateStructured(ctx context.Context, prompt string, out Validatable) error
}

// Store is the durable key-value persistence for profiles, suggestion history
// and preferences. Per-key writes are atomic.
type Store interface {
	// SaveProfile overwrites the profile stored under its repository key.
	SaveProfile(ctx context.Context, profile *domain.RepositoryProfile) error

	// LoadProfile returns the stored profile, or (nil, nil) when absent or
	// when the stored record is malformed and has been dropped.
	LoadProfile(ctx context.Context, repositoryRef string) (*domain.RepositoryProfile, error)

	// RecordSuggestion appends a dedup marker. Appending an existing
	// (repository, normalized title) pair is a no-op.
	RecordSuggestion(ctx context.Context, rec domain.SuggestionRecord) error

	// LoadSuggestionRecords returns all dedup markers for a repository.
	LoadSuggestionRecords(ctx context.Context, repositoryRef string) ([]domain.SuggestionRecord, error)

	// PurgeSuggestionRecords deletes a repository's dedup markers.
	PurgeSuggestionRecords(ctx context.Context, repositoryRef string) error

	// SavePreferences overwrites a user's stored preferences.
	SavePreferences(ctx context.Context, prefs domain.UserPreferences) error

	// LoadPreferences returns stored preferences, or (nil, nil) when absent.
	LoadPreferences(ctx context.Context, userID string) (*domain.UserPreferences, error)
}

// Analyzer runs the per-repository pipeline stage: fetch, compact, assess,
// fall back, emit an immutable profile.
type Analyzer interface {
	Analyze(ctx context.Context, desc domain.RepositoryDescriptor) (*domain.RepositoryProfile, error)
}

// Suggester turns a batch of profiles into a deduplicated, ranked suggestion
// list. It never writes to the store.
type Suggester interface {
	Generate(ctx context.Context, profiles []domain.RepositoryProfile, prefs domain.UserPreferences) ([]domain.MaintenanceSuggestion, error)
}

// IssueFiler creates one tracking issue per approved suggestion. The returned
// error is non-nil only for fatal failures (authentication); everything else
// is encoded in the result.
type IssueFiler interface {
	File(ctx context.Context, s domain.MaintenanceSuggestion, prefs domain.UserPreferences) (domain.IssueResult, error)
}

// ApprovalGate converts a ranked suggestion list into an approved subset. It
// may block indefinitely on an external decision.
type ApprovalGate interface {
	Decide(ctx context.Context, ranked []domain.MaintenanceSuggestion) ([]domain.MaintenanceSuggestion, error)
}

// ProgressSink observes stage transitions and counts.
type ProgressSink interface {
	Emit(event domain.ProgressEvent)
}
