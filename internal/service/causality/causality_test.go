package causality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeProblemVerbatim(t *testing.T) {
	e := New(nil)
	chain := e.Analyze(context.Background(), map[string]any{"problem": "API is broken"}, map[string]any{})

	assert.Equal(t, "API is broken", chain.RootCause)
	assert.Equal(t, []string{fallbackFactor}, chain.ContributingFactors)
	assert.Equal(t, []string{
		"Improved system functionality",
		"Better code maintainability",
		"Enhanced user experience",
		"Resolution of identified patterns",
	}, chain.ExpectedOutcomes)
	assert.InDelta(t, 0.8, chain.Confidence, 1e-9)
}

func TestAnalyzeNonStringProblem(t *testing.T) {
	chain := New(nil).Analyze(context.Background(), map[string]any{"problem": 42}, nil)
	assert.Equal(t, "42", chain.RootCause)
}

func TestAnalyzeFromPatterns(t *testing.T) {
	research := map[string]any{
		"patterns": []any{
			"Issues often focus on automation and enhancement",
			"PRs typically include feature or bugfix labels",
			"Documentation is commonly updated with features",
			"Testing is emphasized in quality PRs",
		},
		"similar_issues": []any{map[string]any{"number": 1}},
	}
	chain := New(nil).Analyze(context.Background(), map[string]any{"repository": "acme/app"}, research)

	assert.Equal(t, "Pattern identified: Issues often focus on automation and enhancement", chain.RootCause)
	require.Len(t, chain.ContributingFactors, 4)
	assert.Equal(t, "1 similar issues found", chain.ContributingFactors[3])
	assert.Contains(t, chain.ExpectedOutcomes, "Increased automation efficiency")
	assert.Len(t, chain.ExpectedOutcomes, 5)
	assert.InDelta(t, 1.0, chain.Confidence, 1e-9)
}

func TestAnalyzeFallbacks(t *testing.T) {
	chain := New(nil).Analyze(context.Background(), nil, nil)
	assert.Equal(t, fallbackRootCause, chain.RootCause)
	assert.Equal(t, []string{fallbackFactor}, chain.ContributingFactors)
	assert.InDelta(t, 0.8, chain.Confidence, 1e-9)
}

func TestAnalyzeDeterministic(t *testing.T) {
	e := New(nil)
	issue := map[string]any{"problem": "Manual automation steps are slow"}
	research := map[string]any{"patterns": []string{"a", "b"}, "similar_issues": []string{"x", "y"}}

	first := e.Analyze(context.Background(), issue, research)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Analyze(context.Background(), issue, research))
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		factors  int
		outcomes int
		want     float64
	}{
		{"base", "short", 0, 0, 0.5},
		{"long root", "longer than ten", 0, 0, 0.65},
		{"two factors", "short", 2, 0, 0.7},
		{"three outcomes", "short", 0, 3, 0.65},
		{"all", "longer than ten", 2, 3, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.root, tt.factors, tt.outcomes), 1e-9)
		})
	}
}
