package domain

import "fmt"

// The generation service returns untrusted text. These are the two payload
// shapes the pipeline expects back, each with the validation applied after
// JSON decoding.

// HealthAssessment is the structured output of the health-assessment prompt.
// It carries the snapshot fields plus the derived summary and tech stack that
// end up on the profile.
type HealthAssessment struct {
	ActivityLevel      ActivityLevel    `json:"activity_level"`
	TestCoverage       CoverageLevel    `json:"test_coverage"`
	Documentation      DocLevel         `json:"documentation_quality"`
	CIStatus           CIStatus         `json:"ci_cd_status"`
	DependencyStatus   DependencyStatus `json:"dependency_status"`
	OverallHealthScore float64          `json:"overall_health_score"`
	IssuesIdentified   []string         `json:"issues_identified"`
	Summary            string           `json:"summary"`
	TechStack          []string         `json:"tech_stack"`
}

func (a *HealthAssessment) Validate() error {
	if err := a.Snapshot().Validate(); err != nil {
		return err
	}
	if a.Summary == "" {
		return fmt.Errorf("health assessment: summary cannot be empty")
	}
	return nil
}

// Snapshot extracts the immutable HealthSnapshot portion.
func (a *HealthAssessment) Snapshot() HealthSnapshot {
	return HealthSnapshot{
		ActivityLevel:      a.ActivityLevel,
		TestCoverage:       a.TestCoverage,
		Documentation:      a.Documentation,
		CIStatus:           a.CIStatus,
		DependencyStatus:   a.DependencyStatus,
		OverallHealthScore: a.OverallHealthScore,
		IssuesIdentified:   a.IssuesIdentified,
	}
}

// SuggestionDraft is one candidate suggestion as returned by the generation
// service, before it is assigned an id and deduplicated.
type SuggestionDraft struct {
	Category        Category `json:"category"`
	Priority        Priority `json:"priority"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Rationale       string   `json:"rationale"`
	EstimatedEffort Effort   `json:"estimated_effort"`
	Labels          []string `json:"labels"`
}

func (d SuggestionDraft) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("suggestion draft: title cannot be empty")
	}
	if !oneOf(d.Category, CategoryBug, CategoryEnhancement, CategoryDocumentation, CategoryRefactor, CategorySecurity) {
		return fmt.Errorf("suggestion draft %q: invalid category %q", d.Title, d.Category)
	}
	if !oneOf(d.Priority, PriorityHigh, PriorityMedium, PriorityLow) {
		return fmt.Errorf("suggestion draft %q: invalid priority %q", d.Title, d.Priority)
	}
	if !oneOf(d.EstimatedEffort, EffortSmall, EffortMedium, EffortLarge) {
		return fmt.Errorf("suggestion draft %q: invalid estimated_effort %q", d.Title, d.EstimatedEffort)
	}
	return nil
}

// SuggestionBatch is the structured output of the suggestion-list prompt.
type SuggestionBatch struct {
	Suggestions []SuggestionDraft `json:"suggestions"`
}

func (b *SuggestionBatch) Validate() error {
	if len(b.Suggestions) == 0 {
		return fmt.Errorf("suggestion batch: no suggestions returned")
	}
	for _, d := range b.Suggestions {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
