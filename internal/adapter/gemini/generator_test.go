package gemini

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github-maintainer/internal/common"
	"github-maintainer/internal/domain"
)

func TestExtractJSONStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"summary\": \"fine\"}\n```"
	clean, err := extractJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "fine"}`, clean)
}

func TestExtractJSONKeepsOutermostWindow(t *testing.T) {
	raw := `prefix {"a": {"b": 1}} suffix`
	clean, err := extractJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 1}}`, clean)
}

func TestExtractJSONFailsWithoutBraces(t *testing.T) {
	_, err := extractJSON("I cannot answer that.")
	require.Error(t, err)
	assert.True(t, common.IsParsing(err))
}

func TestDecodedAssessmentMustValidate(t *testing.T) {
	clean, err := extractJSON(`{"activity_level":"hyperactive","test_coverage":"good","documentation_quality":"good","ci_cd_status":"configured","dependency_status":"current","overall_health_score":0.8,"summary":"ok"}`)
	require.NoError(t, err)

	var out domain.HealthAssessment
	require.NoError(t, json.Unmarshal([]byte(clean), &out))
	err = out.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activity_level")
}

func TestDecodedAssessmentRoundTrip(t *testing.T) {
	payload := `{
		"activity_level": "active",
		"test_coverage": "partial",
		"documentation_quality": "good",
		"ci_cd_status": "configured",
		"dependency_status": "unknown",
		"overall_health_score": 0.72,
		"issues_identified": ["flaky integration tests"],
		"summary": "well maintained service",
		"tech_stack": ["Go", "PostgreSQL"]
	}`
	var out domain.HealthAssessment
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	require.NoError(t, out.Validate())
	assert.Equal(t, domain.ActivityActive, out.ActivityLevel)
	assert.InDelta(t, 0.72, out.OverallHealthScore, 1e-9)
	assert.Equal(t, []string{"Go", "PostgreSQL"}, out.TechStack)
}

func TestClassifyTransportErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want common.Kind
	}{
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, common.KindRateLimit},
		{"bad key", &googleapi.Error{Code: http.StatusForbidden}, common.KindAuth},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, common.KindTransient},
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, common.KindRejected},
		{"network", errors.New("connection reset"), common.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, common.KindOf(classify(tc.err)))
		})
	}
}

func TestParsingFailuresAreNotRetryable(t *testing.T) {
	_, err := extractJSON("nope")
	require.Error(t, err)
	assert.False(t, common.Retryable(err))
}
