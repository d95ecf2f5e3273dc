package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaayud/shaayud/internal/factbag"
)

// Op is a condition primitive.
type Op string

const (
	OpEq    Op = "eq"
	OpGt    Op = "gt"
	OpRegex Op = "regex"
	OpAll   Op = "all"
	OpAny   Op = "any"
)

// Condition is a node of a rule's condition tree.
type Condition struct {
	Op        Op
	Path      string
	Value     factbag.Value // eq
	Threshold float64       // gt
	Pattern   string        // regex
	Children  []*Condition  // all, any

	re *regexp.Regexp // nil when Pattern failed to compile
}

// Eq matches when the value at path structurally equals v.
func Eq(path string, v any) *Condition {
	return &Condition{Op: OpEq, Path: path, Value: factbag.Of(v)}
}

// Gt matches when the value at path coerces to a number strictly greater than threshold.
func Gt(path string, threshold float64) *Condition {
	return &Condition{Op: OpGt, Path: path, Threshold: threshold}
}

// Regex matches when the value at path is a string containing a match of pattern.
// An invalid pattern never matches.
func Regex(path, pattern string) *Condition {
	c := &Condition{Op: OpRegex, Path: path, Pattern: pattern}
	c.compile()
	return c
}

// All matches when every child matches. All() is true.
func All(children ...*Condition) *Condition {
	return &Condition{Op: OpAll, Children: children}
}

// Any matches when at least one child matches. Any() is false.
func Any(children ...*Condition) *Condition {
	return &Condition{Op: OpAny, Children: children}
}

func (c *Condition) compile() {
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		slog.Warn("invalid regex in rule condition, condition will never match",
			"path", c.Path,
			"pattern", c.Pattern,
			"error", err,
		)
		return
	}
	c.re = re
}

// Match evaluates the condition against bag. It never fails:
// missing paths and type mismatches are false.
func (c *Condition) Match(bag factbag.Value) bool {
	switch c.Op {
	case OpAll:
		for _, child := range c.Children {
			if !child.Match(bag) {
				return false
			}
		}
		return true
	case OpAny:
		for _, child := range c.Children {
			if child.Match(bag) {
				return true
			}
		}
		return false
	default:
		return c.matchLeaf(bag)
	}
}

// depth is the nesting depth of the tree. A leaf has depth 1.
func (c *Condition) depth() int {
	d := 0
	for _, child := range c.Children {
		d = max(d, child.depth())
	}
	return d + 1
}

func (c *Condition) matchLeaf(bag factbag.Value) bool {
	v, ok := bag.Lookup(c.Path)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return v.Equal(c.Value)
	case OpGt:
		f, ok := v.Float()
		return ok && f > c.Threshold
	case OpRegex:
		s, ok := v.Str()
		return ok && c.re != nil && c.re.MatchString(s)
	}
	return false
}

// String renders the condition in its document shorthand.
func (c *Condition) String() string {
	switch c.Op {
	case OpEq:
		return fmt.Sprintf("eq(%s, %s)", c.Path, c.Value.String())
	case OpGt:
		return fmt.Sprintf("gt(%s, %s)", c.Path, strconv.FormatFloat(c.Threshold, 'g', -1, 64))
	case OpRegex:
		return fmt.Sprintf("regex(%s, %q)", c.Path, c.Pattern)
	case OpAll, OpAny:
		parts := make([]string, len(c.Children))
		for i, child := range c.Children {
			parts[i] = child.String()
		}
		return fmt.Sprintf("%s(%s)", c.Op, strings.Join(parts, ", "))
	}
	return "invalid"
}

// parseCondition decodes the shorthand form {op: args}.
func parseCondition(node *yaml.Node) (*Condition, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, fmt.Errorf("line %d: condition must be a single-key mapping such as {eq: [path, value]}", node.Line)
	}

	key, args := node.Content[0], node.Content[1]
	op := Op(key.Value)
	if args.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: %s arguments must be a list", args.Line, op)
	}

	switch op {
	case OpEq, OpGt, OpRegex:
		if len(args.Content) != 2 {
			return nil, fmt.Errorf("line %d: %s takes [path, operand], got %d arguments", args.Line, op, len(args.Content))
		}
		pathNode, operand := args.Content[0], args.Content[1]
		if pathNode.Kind != yaml.ScalarNode || pathNode.ShortTag() != "!!str" || pathNode.Value == "" {
			return nil, fmt.Errorf("line %d: %s path must be a non-empty string", pathNode.Line, op)
		}
		return parseLeaf(op, pathNode.Value, operand)

	case OpAll, OpAny:
		children := make([]*Condition, 0, len(args.Content))
		for _, childNode := range args.Content {
			child, err := parseCondition(childNode)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &Condition{Op: op, Children: children}, nil

	default:
		return nil, fmt.Errorf("line %d: unknown operator %q", key.Line, key.Value)
	}
}

func parseLeaf(op Op, path string, operand *yaml.Node) (*Condition, error) {
	switch op {
	case OpEq:
		var v any
		if err := operand.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: eq value: %w", operand.Line, err)
		}
		return Eq(path, normalize(v)), nil

	case OpGt:
		if operand.Kind != yaml.ScalarNode || (operand.ShortTag() != "!!int" && operand.ShortTag() != "!!float") {
			return nil, fmt.Errorf("line %d: gt threshold must be a number", operand.Line)
		}
		var f float64
		if err := operand.Decode(&f); err != nil {
			return nil, fmt.Errorf("line %d: gt threshold: %w", operand.Line, err)
		}
		return Gt(path, f), nil

	default:
		if operand.Kind != yaml.ScalarNode || operand.ShortTag() != "!!str" {
			return nil, fmt.Errorf("line %d: regex pattern must be a string", operand.Line)
		}
		return Regex(path, operand.Value), nil
	}
}

// normalize turns YAML maps with non-string keys into string-keyed maps.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	}
	return v
}
