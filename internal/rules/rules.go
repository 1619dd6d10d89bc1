package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Action decides what happens to a notification event matched by a rule.
type Action string

const (
	// ActionMute suppresses the event from display; counters still track it
	// since the server remains the source of truth for unread state.
	ActionMute Action = "mute"
	// ActionSurface explicitly surfaces the event, ending rule evaluation.
	ActionSurface Action = "surface"
)

// Definition is one routing rule as loaded from the rules file.
type Definition struct {
	Name   string `koanf:"name" json:"name"`
	When   string `koanf:"when" json:"when"`
	Action string `koanf:"action" json:"action"`
}

// Engine compiles routing rules against the notification event shape.
type Engine struct {
	env *cel.Env
}

// NewEngine declares the CEL variables exposed to rule conditions.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("notification", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("rules: build environment: %w", err)
	}
	return &Engine{env: env}, nil
}

type compiled struct {
	name    string
	program cel.Program
	action  Action
}

// Set is an ordered list of compiled rules. First match wins; an event
// matching no rule is surfaced.
type Set struct {
	rules []compiled
}

// Compile validates and compiles every definition. A compile error in any
// rule rejects the whole set so a half-applied rules file never goes live.
func (e *Engine) Compile(defs []Definition) (*Set, error) {
	set := &Set{rules: make([]compiled, 0, len(defs))}
	for _, def := range defs {
		action := Action(strings.ToLower(strings.TrimSpace(def.Action)))
		switch action {
		case ActionMute, ActionSurface:
		case "":
			action = ActionMute
		default:
			return nil, fmt.Errorf("rules: rule %q has unsupported action %q", def.Name, def.Action)
		}

		ast, issues := e.env.Compile(def.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rules: compile %q: %w", def.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rules: rule %q must yield a boolean, got %s", def.Name, ast.OutputType())
		}
		program, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rules: program %q: %w", def.Name, err)
		}
		set.rules = append(set.rules, compiled{name: def.Name, program: program, action: action})
	}
	return set, nil
}

// Muted reports whether the notification event should be suppressed from
// display. Evaluation errors skip the offending rule rather than blocking the
// event.
func (s *Set) Muted(notification map[string]any) (bool, string) {
	if s == nil {
		return false, ""
	}
	activation := map[string]any{
		"notification": notification,
		"now":          time.Now(),
	}
	for _, rule := range s.rules {
		val, _, err := rule.program.Eval(activation)
		if err != nil {
			continue
		}
		matched, ok := val.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}
		return rule.action == ActionMute, rule.name
	}
	return false, ""
}

// Len reports how many rules the set holds.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
