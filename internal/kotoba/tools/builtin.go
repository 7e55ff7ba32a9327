package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Tool is a function implemented in-process.
type Tool interface {
	Function() Function
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Builtin is a Catalog of in-process tools. Populate it before serving;
// Register is not safe to call concurrently with Call.
type Builtin struct {
	tools   map[string]Tool
	schemas *schemaSet
}

var _ Catalog = (*Builtin)(nil)

// NewBuiltin returns a catalog holding the given tools.
func NewBuiltin(tools ...Tool) *Builtin {
	b := &Builtin{tools: make(map[string]Tool), schemas: newSchemaSet()}
	for _, t := range tools {
		b.Register(t)
	}
	return b
}

// DefaultBuiltin returns the tools Kotoba ships with.
func DefaultBuiltin() *Builtin {
	return NewBuiltin(NewTimeTool(nil), CalculateTool{})
}

// Register adds t. It panics on a duplicate name or an invalid schema,
// both of which are programming errors.
func (b *Builtin) Register(t Tool) {
	fn := t.Function()
	if _, dup := b.tools[fn.Name]; dup {
		panic("tools: duplicate builtin " + fn.Name)
	}
	if err := b.schemas.set(fn.Name, fn.InputSchema); err != nil {
		panic(err)
	}
	b.tools[fn.Name] = t
}

func (b *Builtin) ListFunctions(context.Context) ([]Function, error) {
	out := make([]Function, 0, len(b.tools))
	for _, t := range b.tools {
		out = append(out, t.Function())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Builtin) Call(ctx context.Context, name string, args map[string]any, timeout time.Duration) CallResult {
	t, ok := b.tools[name]
	if !ok {
		return failed(fmt.Errorf("%w: %s", ErrUnknownFunction, name))
	}
	if err := b.schemas.validate(name, args); err != nil {
		return failed(err)
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := t.Execute(ctx, args)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return failed(err)
	}
	return CallResult{Status: StatusSuccess, Data: out}
}

// TimeTool reports the current time in a timezone.
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool returns a get_time tool. now may be nil.
func NewTimeTool(now func() time.Time) TimeTool {
	if now == nil {
		now = time.Now
	}
	return TimeTool{now: now}
}

func (TimeTool) Function() Function {
	return Function{
		Name:        "get_time",
		Description: "Current date and time in an IANA timezone.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"timezone": {"type": "string", "minLength": 1}},
			"additionalProperties": false
		}`),
	}
}

func (t TimeTool) Execute(_ context.Context, args map[string]any) (string, error) {
	tz, _ := args["timezone"].(string)
	if tz == "" {
		tz = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("unknown timezone %q", tz)
	}
	return t.now().In(loc).Format("2006-01-02 15:04:05 MST"), nil
}

// CalculateTool evaluates arithmetic expressions.
type CalculateTool struct{}

func (CalculateTool) Function() Function {
	return Function{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression using + - * / and parentheses.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"expression": {"type": "string", "minLength": 1}},
			"required": ["expression"]
		}`),
	}
}

func (CalculateTool) Execute(_ context.Context, args map[string]any) (string, error) {
	expr, _ := args["expression"].(string)
	if expr == "" {
		return "", errors.New("expression is required")
	}
	v, err := Evaluate(expr)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}
