package classify

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/agentflow/llm/vrouter"
)

// Operator is a rule condition's comparison operator.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
	OpGreater    Operator = "greater_than"
	OpLess       Operator = "less_than"
)

// Field is one of the fixed fields a condition may inspect.
type Field string

const (
	FieldModel       Field = "model"
	FieldModelLower  Field = "model_lower"
	FieldTokenCount  Field = "token_count"
	FieldHasTools    Field = "has_tools"
	FieldHasThinking Field = "has_thinking"
	FieldToolTypes   Field = "tool_types"
)

// Condition is one predicate within a Rule. All conditions in a rule must
// match (logical AND) for the rule to fire.
type Condition struct {
	Field    Field
	Operator Operator
	Value    string
}

// Rule is one ordered classification rule; higher Priority wins among
// matching rules.
type Rule struct {
	Name       string
	Priority   int
	Conditions []Condition
	Category   vrouter.Category
}

// Classifier evaluates ordered rules, then a glob fallback over the model
// name, then contextual inference, then a final default category.
type Classifier struct {
	rules         []Rule
	globPatterns  []globRule
	defaultResult vrouter.Category
}

type globRule struct {
	pattern  string
	category vrouter.Category
}

// NewClassifier sorts rules by descending priority once at construction so
// Classify never needs to re-sort per call.
func NewClassifier(rules []Rule, globPatterns map[string]vrouter.Category, defaultCategory vrouter.Category) *Classifier {
	sorted := append([]Rule(nil), rules...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority > sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	var globs []globRule
	for pattern, cat := range globPatterns {
		globs = append(globs, globRule{pattern: pattern, category: cat})
	}
	if defaultCategory == "" {
		defaultCategory = vrouter.CategoryDefault
	}
	return &Classifier{rules: sorted, globPatterns: globs, defaultResult: defaultCategory}
}

// Classify implements vrouter.CategoryClassifier. It is deterministic given
// identical input and rule set, performs no I/O, and never mutates fields.
func (c *Classifier) Classify(_ context.Context, fields vrouter.ClassifyFields) (vrouter.Category, float64) {
	for _, r := range c.rules {
		if ruleMatches(r, fields) {
			return r.Category, 1.0
		}
	}

	modelLower := strings.ToLower(fields.Model)
	for _, g := range c.globPatterns {
		if ok, _ := filepath.Match(g.pattern, modelLower); ok {
			return g.category, 0.8
		}
	}

	if fields.TokenCount > 50000 {
		return vrouter.CategoryLongContext, 0.5
	}
	if fields.HasThinking {
		return vrouter.CategoryThinking, 0.5
	}
	for _, tt := range fields.ToolTypes {
		if tt == "web-search" || tt == "web_search" {
			return vrouter.CategoryWebSearch, 0.5
		}
	}
	for _, tt := range fields.ToolTypes {
		if tt == "code-execution" || tt == "code_execution" {
			return vrouter.CategoryCoding, 0.5
		}
	}

	return c.defaultResult, 0.1
}

func ruleMatches(r Rule, fields vrouter.ClassifyFields) bool {
	for _, cond := range r.Conditions {
		if !conditionMatches(cond, fields) {
			return false
		}
	}
	return len(r.Conditions) > 0
}

func conditionMatches(cond Condition, fields vrouter.ClassifyFields) bool {
	switch cond.Field {
	case FieldModel:
		return stringOp(cond.Operator, fields.Model, cond.Value)
	case FieldModelLower:
		return stringOp(cond.Operator, strings.ToLower(fields.Model), cond.Value)
	case FieldHasTools:
		want := cond.Value == "true"
		return fields.HasTools == want
	case FieldHasThinking:
		want := cond.Value == "true"
		return fields.HasThinking == want
	case FieldTokenCount:
		return numericOp(cond.Operator, fields.TokenCount, cond.Value)
	case FieldToolTypes:
		for _, tt := range fields.ToolTypes {
			if stringOp(cond.Operator, tt, cond.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func stringOp(op Operator, actual, want string) bool {
	switch op {
	case OpEquals:
		return actual == want
	case OpContains:
		return strings.Contains(actual, want)
	case OpStartsWith:
		return strings.HasPrefix(actual, want)
	case OpEndsWith:
		return strings.HasSuffix(actual, want)
	case OpRegex:
		re, err := regexp.Compile(want)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

func numericOp(op Operator, actual int, want string) bool {
	n, err := strconv.Atoi(want)
	if err != nil {
		return false
	}
	switch op {
	case OpGreater:
		return actual > n
	case OpLess:
		return actual < n
	case OpEquals:
		return actual == n
	default:
		return false
	}
}
