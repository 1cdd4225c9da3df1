package issuer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github-maintainer/internal/common"
	"github-maintainer/internal/domain"
	"github-maintainer/internal/port"
)

// Filer creates one tracking issue per approved suggestion and records the
// dedup marker afterwards. The ordering is the crash-safety contract: the
// marker is written only once the issue exists, so a crash in between can at
// worst re-suggest, never lose track of a filed issue.
type Filer struct {
	host    port.RepoHost
	store   port.Store
	log     *zap.Logger
	nowFunc func() time.Time
}

// Option configures the filer.
type Option func(*Filer)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(f *Filer) { f.log = log }
}

// WithNow injects the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(f *Filer) { f.nowFunc = fn }
}

func New(host port.RepoHost, store port.Store, opts ...Option) *Filer {
	f := &Filer{
		host:    host,
		store:   store,
		log:     zap.NewNop(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ port.IssueFiler = (*Filer)(nil)

// File attempts one issue creation. Only authentication failures return a
// non-nil error; every other outcome is encoded in the result so the caller
// can keep filing the rest of the batch.
func (f *Filer) File(ctx context.Context, s domain.MaintenanceSuggestion, prefs domain.UserPreferences) (domain.IssueResult, error) {
	result := domain.IssueResult{
		SuggestionID:  s.ID,
		RepositoryRef: s.RepositoryRef,
	}

	labels := mergeLabels(s.Labels, prefs.PreferredLabels)
	ref, err := f.host.CreateIssue(ctx, s.RepositoryRef, s.Title, formatBody(s), labels)
	if err != nil {
		result.ErrorMessage = err.Error()
		if common.IsAuth(err) {
			return result, err
		}
		f.log.Warn("issue creation failed",
			zap.String("repository", s.RepositoryRef),
			zap.String("title", s.Title),
			zap.Error(err))
		return result, nil
	}

	result.Success = true
	result.IssueURL = ref.URL
	result.IssueNumber = ref.Number

	rec := domain.SuggestionRecord{
		RepositoryRef:   s.RepositoryRef,
		NormalizedTitle: domain.NormalizeTitle(s.Title),
		Category:        s.Category,
		CreatedAt:       f.nowFunc(),
	}
	if err := f.store.RecordSuggestion(ctx, rec); err != nil {
		// The issue exists; a missing marker only means the title may be
		// re-suggested next run. Still a success.
		f.log.Warn("dedup record write failed after issue creation",
			zap.String("repository", s.RepositoryRef),
			zap.String("issue_url", ref.URL),
			zap.Error(err))
	}
	return result, nil
}

// mergeLabels unions the suggestion's labels with the user's preferred ones,
// deduplicated and sorted for a deterministic wire payload.
func mergeLabels(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, l := range a {
		if l = strings.TrimSpace(l); l != "" {
			set[l] = struct{}{}
		}
	}
	for _, l := range b {
		if l = strings.TrimSpace(l); l != "" {
			set[l] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func formatBody(s domain.MaintenanceSuggestion) string {
	var b strings.Builder
	b.WriteString(s.Description)
	b.WriteString("\n\n")
	if s.Rationale != "" {
		fmt.Fprintf(&b, "## Why\n\n%s\n\n", s.Rationale)
	}
	b.WriteString("## Details\n\n")
	fmt.Fprintf(&b, "- Category: %s\n", s.Category)
	fmt.Fprintf(&b, "- Priority: %s\n", s.Priority)
	fmt.Fprintf(&b, "- Estimated effort: %s\n", s.EstimatedEffort)
	b.WriteString("\n---\n*Filed automatically by github-maintainer.*\n")
	return b.String()
}
