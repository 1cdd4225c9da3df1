package suggester

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-maintainer/internal/common"
	"github-maintainer/internal/domain"
	"github-maintainer/internal/port"
)

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) GenerateStructured(ctx context.Context, prompt string, out port.Validatable) error {
	args := m.Called(ctx, prompt, out)
	return args.Error(0)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) SaveProfile(ctx context.Context, profile *domain.RepositoryProfile) error {
	return m.Called(ctx, profile).Error(0)
}

func (m *mockStore) LoadProfile(ctx context.Context, repositoryRef string) (*domain.RepositoryProfile, error) {
	args := m.Called(ctx, repositoryRef)
	if v := args.Get(0); v != nil {
		return v.(*domain.RepositoryProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) RecordSuggestion(ctx context.Context, rec domain.SuggestionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) LoadSuggestionRecords(ctx context.Context, repositoryRef string) ([]domain.SuggestionRecord, error) {
	args := m.Called(ctx, repositoryRef)
	if v := args.Get(0); v != nil {
		return v.([]domain.SuggestionRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) PurgeSuggestionRecords(ctx context.Context, repositoryRef string) error {
	return m.Called(ctx, repositoryRef).Error(0)
}

func (m *mockStore) SavePreferences(ctx context.Context, prefs domain.UserPreferences) error {
	return m.Called(ctx, prefs).Error(0)
}

func (m *mockStore) LoadPreferences(ctx context.Context, userID string) (*domain.UserPreferences, error) {
	args := m.Called(ctx, userID)
	if v := args.Get(0); v != nil {
		return v.(*domain.UserPreferences), args.Error(1)
	}
	return nil, args.Error(1)
}

func profileFor(ref string, score float64) domain.RepositoryProfile {
	parts := strings.SplitN(ref, "/", 2)
	return domain.RepositoryProfile{
		Descriptor: domain.RepositoryDescriptor{
			FullName: ref, Owner: parts[0], Name: parts[1], Visibility: "public",
		},
		Health: domain.HealthSnapshot{
			ActivityLevel:      domain.ActivityActive,
			TestCoverage:       domain.CoverageNone,
			Documentation:      domain.DocGood,
			CIStatus:           domain.CIConfigured,
			DependencyStatus:   domain.DepsUnknown,
			OverallHealthScore: score,
		},
		Summary:         "test profile",
		AnalysisVersion: "1",
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func returnDrafts(drafts ...domain.SuggestionDraft) func(mock.Arguments) {
	return func(args mock.Arguments) {
		out := args.Get(2).(*domain.SuggestionBatch)
		out.Suggestions = drafts
	}
}

func draft(title string, cat domain.Category, pri domain.Priority, eff domain.Effort) domain.SuggestionDraft {
	return domain.SuggestionDraft{
		Category: cat, Priority: pri, Title: title,
		Description: "d", Rationale: "r", EstimatedEffort: eff,
	}
}

func TestGenerateDedupsAgainstStore(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, "alice/keep").Return([]domain.SuggestionRecord{
		{RepositoryRef: "alice/keep", NormalizedTitle: "add test suite", Category: domain.CategoryEnhancement, CreatedAt: time.Now()},
	}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Run(returnDrafts(
			draft("  Add Test Suite ", domain.CategoryEnhancement, domain.PriorityHigh, domain.EffortLarge),
			draft("Set up CI/CD pipeline", domain.CategoryEnhancement, domain.PriorityMedium, domain.EffortMedium),
		)).Return(nil)

	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{profileFor("alice/keep", 0.6)}, domain.DefaultPreferences("alice"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Set up CI/CD pipeline", got[0].Title)
}

func TestGenerateIsIdempotentOnceRecorded(t *testing.T) {
	// Second run against a store that now holds records for everything the
	// first run produced must yield nothing.
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, "alice/keep").Return([]domain.SuggestionRecord{
		{RepositoryRef: "alice/keep", NormalizedTitle: "add test suite", Category: domain.CategoryEnhancement, CreatedAt: time.Now()},
		{RepositoryRef: "alice/keep", NormalizedTitle: "improve documentation", Category: domain.CategoryDocumentation, CreatedAt: time.Now()},
	}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Run(returnDrafts(
			draft("Add test suite", domain.CategoryEnhancement, domain.PriorityHigh, domain.EffortLarge),
			draft("Improve documentation", domain.CategoryDocumentation, domain.PriorityMedium, domain.EffortMedium),
		)).Return(nil)

	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{profileFor("alice/keep", 0.6)}, domain.DefaultPreferences("alice"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerateDropsIntraBatchDuplicates(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, mock.Anything).Return([]domain.SuggestionRecord{}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Run(returnDrafts(
			draft("Fix flaky build", domain.CategoryBug, domain.PriorityHigh, domain.EffortSmall),
			draft("fix flaky build", domain.CategoryBug, domain.PriorityLow, domain.EffortSmall),
			draft("FIX FLAKY BUILD  ", domain.CategoryBug, domain.PriorityMedium, domain.EffortSmall),
		)).Return(nil)

	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{profileFor("alice/keep", 0.6)}, domain.DefaultPreferences("alice"))
	require.NoError(t, err)
	require.Len(t, got, 1)

	seen := map[string]bool{}
	for _, sg := range got {
		key := domain.NormalizeTitle(sg.Title)
		assert.False(t, seen[key])
		seen[key] = true
	}
}

func TestGenerateRanksByScoreThenTitle(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, mock.Anything).Return([]domain.SuggestionRecord{}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Run(returnDrafts(
			// (2*2+1)/2 = 2.5
			draft("zz refactor", domain.CategoryRefactor, domain.PriorityMedium, domain.EffortMedium),
			// (3*2+5)/1 = 11
			draft("patch vulnerability", domain.CategorySecurity, domain.PriorityHigh, domain.EffortLarge),
			// (3*2+4)/2 = 5
			draft("b bug", domain.CategoryBug, domain.PriorityHigh, domain.EffortMedium),
			// (3*2+4)/2 = 5, tie with "b bug", ordered by title
			draft("a bug", domain.CategoryBug, domain.PriorityHigh, domain.EffortMedium),
		)).Return(nil)

	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{profileFor("alice/keep", 0.6)}, domain.DefaultPreferences("alice"))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "patch vulnerability", got[0].Title)
	assert.Equal(t, "a bug", got[1].Title)
	assert.Equal(t, "b bug", got[2].Title)
	assert.Equal(t, "zz refactor", got[3].Title)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, Score(got[i-1]), Score(got[i]))
	}
}

func TestGenerateSkipsExcludedRepositories(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, "alice/keep").Return([]domain.SuggestionRecord{}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Run(returnDrafts(draft("Add test suite", domain.CategoryEnhancement, domain.PriorityHigh, domain.EffortLarge))).
		Return(nil)

	prefs := domain.UserPreferences{
		UserID:          "alice",
		AutomationLevel: domain.AutomationManual,
		ExcludedRepos:   []string{"alice/attic"},
	}
	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{
		profileFor("alice/attic", 0.3),
		profileFor("alice/keep", 0.6),
	}, prefs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice/keep", got[0].RepositoryRef)
	store.AssertNotCalled(t, "LoadSuggestionRecords", mock.Anything, "alice/attic")
}

func TestGenerateFallbackOnGenerationFailure(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, mock.Anything).Return([]domain.SuggestionRecord{}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Return(common.ParsingError("garbage", nil))

	p := profileFor("alice/weak", 0.4)
	p.Health.TestCoverage = domain.CoverageNone
	p.Health.CIStatus = domain.CIConfigured

	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{p}, domain.DefaultPreferences("alice"))
	require.NoError(t, err)
	require.NotEmpty(t, got)

	var found bool
	for _, sg := range got {
		if sg.Category == domain.CategoryEnhancement &&
			strings.Contains(strings.ToLower(sg.Title), "test") {
			found = true
			assert.Equal(t, domain.PriorityHigh, sg.Priority)
		}
	}
	assert.True(t, found, "expected an enhancement suggestion referencing tests")
}

func TestGenerateFallbackPriorityMediumWhenHealthy(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, mock.Anything).Return([]domain.SuggestionRecord{}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Return(common.TransientError("down", nil))

	p := profileFor("alice/fine", 0.8)
	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{p}, domain.DefaultPreferences("alice"))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, sg := range got {
		assert.Equal(t, domain.PriorityMedium, sg.Priority)
	}
}

func TestGenerateSkipsRepositoryWhenHistoryUnavailable(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, "alice/broken").
		Return(nil, errors.New("db down"))
	store.On("LoadSuggestionRecords", mock.Anything, "alice/keep").
		Return([]domain.SuggestionRecord{}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Run(returnDrafts(draft("Add test suite", domain.CategoryEnhancement, domain.PriorityHigh, domain.EffortLarge))).
		Return(nil)

	s := New(gen, store, WithIDFunc(sequentialIDs()))
	got, err := s.Generate(context.Background(), []domain.RepositoryProfile{
		profileFor("alice/broken", 0.4),
		profileFor("alice/keep", 0.6),
	}, domain.DefaultPreferences("alice"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice/keep", got[0].RepositoryRef)
}

func TestGeneratePropagatesAuthFailure(t *testing.T) {
	gen := &mockGenerator{}
	store := &mockStore{}
	store.On("LoadSuggestionRecords", mock.Anything, mock.Anything).Return([]domain.SuggestionRecord{}, nil)
	gen.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Return(common.AuthError("bad key", nil))

	s := New(gen, store)
	_, err := s.Generate(context.Background(), []domain.RepositoryProfile{profileFor("alice/keep", 0.6)}, domain.DefaultPreferences("alice"))
	require.Error(t, err)
	assert.True(t, common.IsAuth(err))
}

func TestSuggestionPromptWeighsFocusAreas(t *testing.T) {
	prefs := domain.UserPreferences{
		UserID:          "alice",
		AutomationLevel: domain.AutomationManual,
		FocusAreas:      []string{"security", "testing"},
	}
	prompt := suggestionPrompt(profileFor("alice/keep", 0.6), prefs)
	assert.Contains(t, prompt, "security, testing")
	assert.Contains(t, prompt, "alice/keep")
}

func TestScoreTable(t *testing.T) {
	s := domain.MaintenanceSuggestion{
		Category: domain.CategorySecurity, Priority: domain.PriorityHigh, EstimatedEffort: domain.EffortLarge,
	}
	assert.InDelta(t, 11.0, Score(s), 1e-9)

	s = domain.MaintenanceSuggestion{
		Category: domain.CategoryRefactor, Priority: domain.PriorityLow, EstimatedEffort: domain.EffortSmall,
	}
	assert.InDelta(t, 1.0, Score(s), 1e-9)
}
