package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/agentflow/llm/vrouter"
)

func TestRuleWithHigherPriorityWins(t *testing.T) {
	rules := []Rule{
		{Name: "low", Priority: 1, Category: vrouter.CategoryDefault,
			Conditions: []Condition{{Field: FieldModelLower, Operator: OpContains, Value: "gpt"}}},
		{Name: "high", Priority: 10, Category: vrouter.CategoryCoding,
			Conditions: []Condition{{Field: FieldModelLower, Operator: OpContains, Value: "gpt"}}},
	}
	c := NewClassifier(rules, nil, vrouter.CategoryDefault)
	cat, _ := c.Classify(context.Background(), vrouter.ClassifyFields{Model: "gpt-4"})
	assert.Equal(t, vrouter.CategoryCoding, cat)
}

func TestGlobFallback(t *testing.T) {
	c := NewClassifier(nil, map[string]vrouter.Category{"*haiku*": vrouter.CategoryBackground}, vrouter.CategoryDefault)
	cat, _ := c.Classify(context.Background(), vrouter.ClassifyFields{Model: "claude-3-haiku-20240307"})
	assert.Equal(t, vrouter.CategoryBackground, cat)
}

func TestContextualInferenceLongContext(t *testing.T) {
	c := NewClassifier(nil, nil, vrouter.CategoryDefault)
	cat, _ := c.Classify(context.Background(), vrouter.ClassifyFields{Model: "x", TokenCount: 60000})
	assert.Equal(t, vrouter.CategoryLongContext, cat)
}

func TestContextualInferenceWebSearch(t *testing.T) {
	c := NewClassifier(nil, nil, vrouter.CategoryDefault)
	cat, _ := c.Classify(context.Background(), vrouter.ClassifyFields{Model: "x", ToolTypes: []string{"web-search"}})
	assert.Equal(t, vrouter.CategoryWebSearch, cat)
}

func TestFinalFallbackDefault(t *testing.T) {
	c := NewClassifier(nil, nil, vrouter.CategoryDefault)
	cat, _ := c.Classify(context.Background(), vrouter.ClassifyFields{Model: "mystery-model"})
	assert.Equal(t, vrouter.CategoryDefault, cat)
}

func TestDeterministicAcrossRepeatedCalls(t *testing.T) {
	c := NewClassifier([]Rule{
		{Name: "r", Priority: 1, Category: vrouter.CategoryVision,
			Conditions: []Condition{{Field: FieldModel, Operator: OpEquals, Value: "vision-model"}}},
	}, nil, vrouter.CategoryDefault)
	fields := vrouter.ClassifyFields{Model: "vision-model"}
	first, _ := c.Classify(context.Background(), fields)
	second, _ := c.Classify(context.Background(), fields)
	assert.Equal(t, first, second)
}
