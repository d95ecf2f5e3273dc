// Package rules provides the rule set and the CEL-backed evaluation engine that scores fact bags.
package rules

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/factbag"
)

// factBagType is the CEL type of the evaluated bag.
var factBagType = cel.OpaqueType("shaayud.FactBag")

// RuleSet is an immutable, compiled rule set. Safe for concurrent use.
type RuleSet struct {
	Version int64
	Default int64
	Rules   []*Rule

	leaves   []*Condition
	programs []cel.Program
}

// New compiles rules into a RuleSet. Each condition tree becomes one CEL program
// whose leaves call back into the primitive matchers.
func New(version, defaultScore int64, rules []*Rule) (*RuleSet, error) {
	rs := &RuleSet{
		Version: version,
		Default: defaultScore,
		Rules:   rules,
	}

	exprs := make([]string, len(rules))
	depth, size := 0, 0
	for i, r := range rules {
		if r.When == nil {
			return nil, fmt.Errorf("%w: rule %q has no condition", domain.ErrConfiguration, r.ID)
		}
		exprs[i] = rs.expression(r.When)
		depth = max(depth, r.When.depth())
		size = max(size, len(exprs[i]))
	}

	env, err := cel.NewEnv(
		cel.Variable("bag", factBagType),
		cel.Function("fact",
			cel.Overload("fact_bag_int",
				[]*cel.Type{factBagType, cel.IntType},
				cel.BoolType,
				cel.BinaryBinding(rs.matchLeaf),
			),
		),
		cel.ParserRecursionLimit(recursionLimit(depth)),
		cel.ParserExpressionSizeLimit(max(defaultExpressionSize, size+1)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create CEL environment: %w", domain.ErrConfiguration, err)
	}

	rs.programs = make([]cel.Program, len(rules))
	for i, r := range rules {
		expr := exprs[i]

		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: compile rule %s (condition depth %d, parser recursion limit %d): %w",
				domain.ErrConfiguration, r.ID, r.When.depth(), recursionLimit(depth), issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", domain.ErrConfiguration, r.ID, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: create program for rule %s: %w", domain.ErrConfiguration, r.ID, err)
		}
		rs.programs[i] = program
	}

	return rs, nil
}

const (
	defaultRecursionLimit = 250
	defaultExpressionSize = 100_000

	// Upper bound on parser recursion steps spent per nesting level of a condition.
	visitsPerLevel = 16
)

// recursionLimit sizes the parser's recursion budget to the deepest condition.
func recursionLimit(depth int) int {
	return max(defaultRecursionLimit, visitsPerLevel*(depth+2))
}

// expression flattens a condition tree into CEL, registering every leaf.
func (rs *RuleSet) expression(c *Condition) string {
	switch c.Op {
	case OpAll, OpAny:
		if len(c.Children) == 0 {
			return strconv.FormatBool(c.Op == OpAll)
		}
		sep := " && "
		if c.Op == OpAny {
			sep = " || "
		}
		parts := make([]string, len(c.Children))
		for i, child := range c.Children {
			parts[i] = rs.expression(child)
		}
		return "(" + strings.Join(parts, sep) + ")"
	default:
		rs.leaves = append(rs.leaves, c)
		return fmt.Sprintf("fact(bag, %d)", len(rs.leaves)-1)
	}
}

func (rs *RuleSet) matchLeaf(bag, idx ref.Val) ref.Val {
	b, ok := bag.(bagVal)
	if !ok {
		return types.False
	}
	i, ok := idx.(types.Int)
	if !ok || i < 0 || int(i) >= len(rs.leaves) {
		return types.False
	}
	return types.Bool(rs.leaves[i].matchLeaf(b.v))
}

// Evaluate scores bag: the default plus the score of every matching rule, in declaration order.
func (rs *RuleSet) Evaluate(bag factbag.Value) domain.ScoreBreakdown {
	out := domain.ScoreBreakdown{
		Total:          rs.Default,
		Matched:        []domain.Match{},
		RuleSetVersion: rs.Version,
	}

	activation := map[string]any{"bag": bagVal{v: bag}}
	for i, r := range rs.Rules {
		if !rs.matches(i, activation) {
			continue
		}
		out.Total += r.Score
		out.Matched = append(out.Matched, domain.Match{
			RuleID:      r.ID,
			Score:       r.Score,
			Description: r.Description,
		})
	}
	return out
}

func (rs *RuleSet) matches(i int, activation map[string]any) bool {
	val, _, err := rs.programs[i].Eval(activation)
	if err != nil {
		return false
	}
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

// Evaluate scores bag against rs.
func Evaluate(bag factbag.Value, rs *RuleSet) domain.ScoreBreakdown {
	return rs.Evaluate(bag)
}

// Summary describes a loaded rule for operators.
type Summary struct {
	ID          string `json:"id"`
	Score       int64  `json:"score"`
	Description string `json:"description,omitempty"`
	When        string `json:"when"`
}

// Summaries lists the rules in declaration order.
func (rs *RuleSet) Summaries() []Summary {
	out := make([]Summary, len(rs.Rules))
	for i, r := range rs.Rules {
		out[i] = Summary{
			ID:          r.ID,
			Score:       r.Score,
			Description: r.Description,
			When:        r.When.String(),
		}
	}
	return out
}

// bagVal carries a fact bag through CEL evaluation untouched.
type bagVal struct {
	v factbag.Value
}

func (b bagVal) ConvertToNative(typeDesc reflect.Type) (any, error) {
	if typeDesc == reflect.TypeOf(factbag.Value{}) {
		return b.v, nil
	}
	return nil, fmt.Errorf("fact bag cannot be converted to %v", typeDesc)
}

func (b bagVal) ConvertToType(typeValue ref.Type) ref.Val {
	if typeValue == types.TypeType {
		return factBagType
	}
	return types.NewErr("fact bag cannot be converted to %s", typeValue.TypeName())
}

func (b bagVal) Equal(other ref.Val) ref.Val {
	o, ok := other.(bagVal)
	return types.Bool(ok && b.v.Equal(o.v))
}

func (b bagVal) Type() ref.Type {
	return factBagType
}

func (b bagVal) Value() any {
	return b.v
}
