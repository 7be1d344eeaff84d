package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Status string

var (
	ErrUnknownEntity     = errors.New("unknown workflow entity")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Definition is the ordered status workflow of one entity type. Steps are
// walked one at a time; Branches add alternatives reachable from a step and
// Cancel is reachable from every non-terminal status.
type Definition struct {
	Entity   string              `yaml:"entity" json:"entity"`
	Steps    []Status            `yaml:"steps" json:"steps"`
	Terminal []Status            `yaml:"terminal" json:"terminal"`
	Branches map[Status][]Status `yaml:"branches" json:"branches,omitempty"`
	Cancel   Status              `yaml:"cancel" json:"cancel,omitempty"`
	Aliases  map[string]Status   `yaml:"aliases" json:"-"`
}

// Position is a status resolved against its definition.
type Position struct {
	Status   Status   `json:"status"`
	Index    int      `json:"index"`
	Known    bool     `json:"known"`
	Terminal bool     `json:"terminal"`
	Next     Status   `json:"next,omitempty"`
	Branches []Status `json:"branches,omitempty"`
}

// Normalize maps raw input onto a member status. Input is trimmed,
// lowercased and separator-folded, then matched against members, the alias
// table and finally members with separators removed ("InProgress").
func (d *Definition) Normalize(raw string) (Status, bool) {
	key := normalizeKey(raw)
	if key == "" {
		return "", false
	}
	if d.isMember(Status(key)) {
		return Status(key), true
	}
	for alias, target := range d.Aliases {
		if normalizeKey(alias) == key {
			return target, true
		}
	}
	compact := strings.ReplaceAll(key, "_", "")
	for _, s := range d.members() {
		if strings.ReplaceAll(string(s), "_", "") == compact {
			return s, true
		}
	}
	return "", false
}

// Locate resolves raw into a Position. Unresolvable input falls back to the
// first step with Known=false; a definition without steps yields the zero
// Position.
func (d *Definition) Locate(raw string) Position {
	st, ok := d.Normalize(raw)
	if !ok {
		if len(d.Steps) == 0 {
			return Position{}
		}
		st = d.Steps[0]
	}

	idx := slices.Index(d.Steps, st)
	if idx < 0 {
		idx = d.branchOrigin(st)
	}
	if idx < 0 {
		idx = 0
	}

	p := Position{
		Status:   st,
		Index:    idx,
		Known:    ok,
		Terminal: d.IsTerminal(st),
	}
	if p.Terminal {
		return p
	}
	p.Branches = slices.Clone(d.Branches[st])
	// A detour that branches back into the steps must return before moving on.
	if d.returnsToSteps(st) {
		return p
	}
	if idx+1 < len(d.Steps) {
		p.Next = d.Steps[idx+1]
	}
	return p
}

// returnsToSteps reports whether s is off the step list and branches back
// into it.
func (d *Definition) returnsToSteps(s Status) bool {
	if slices.Contains(d.Steps, s) {
		return false
	}
	return slices.ContainsFunc(d.Branches[s], func(t Status) bool {
		return slices.Contains(d.Steps, t)
	})
}

// Eligible lists the statuses a transition from raw may target, in display
// order: next step, branch targets, cancel.
func (d *Definition) Eligible(raw string) []Status {
	p := d.Locate(raw)
	if p.Terminal {
		return nil
	}
	var out []Status
	if p.Next != "" {
		out = append(out, p.Next)
	}
	out = append(out, p.Branches...)
	if d.Cancel != "" && !slices.Contains(out, d.Cancel) {
		out = append(out, d.Cancel)
	}
	return out
}

// CanTransition reports whether to is eligible from from.
func (d *Definition) CanTransition(from, to string) bool {
	next, ok := d.Normalize(to)
	if !ok {
		return false
	}
	return slices.Contains(d.Eligible(from), next)
}

// Transition validates a proposed change and returns the normalized pair.
func (d *Definition) Transition(from, to string) (Status, Status, error) {
	cur := d.Locate(from).Status
	next, ok := d.Normalize(to)
	if !ok {
		return cur, "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !d.CanTransition(from, to) {
		return cur, next, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	return cur, next, nil
}

func (d *Definition) IsTerminal(s Status) bool {
	return slices.Contains(d.Terminal, s)
}

func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Entity) == "" {
		return errors.New("workflow: entity is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s: steps cannot be empty", d.Entity)
	}
	seen := map[Status]bool{}
	for _, s := range d.Steps {
		if s == "" {
			return fmt.Errorf("workflow %s: empty step", d.Entity)
		}
		if seen[s] {
			return fmt.Errorf("workflow %s: duplicate step %q", d.Entity, s)
		}
		seen[s] = true
	}
	for origin, targets := range d.Branches {
		if !d.isMember(origin) {
			return fmt.Errorf("workflow %s: branch origin %q is not a status", d.Entity, origin)
		}
		for _, t := range targets {
			if t == "" {
				return fmt.Errorf("workflow %s: empty branch target from %q", d.Entity, origin)
			}
		}
	}
	if d.Cancel != "" && !d.IsTerminal(d.Cancel) {
		return fmt.Errorf("workflow %s: cancel status %q must be terminal", d.Entity, d.Cancel)
	}
	for _, s := range d.Terminal {
		if !d.isMember(s) {
			return fmt.Errorf("workflow %s: terminal status %q is not a status", d.Entity, s)
		}
	}
	for alias, target := range d.Aliases {
		if d.isMember(Status(normalizeKey(alias))) {
			return fmt.Errorf("workflow %s: alias %q shadows a status", d.Entity, alias)
		}
		if !d.isMember(target) {
			return fmt.Errorf("workflow %s: alias %q targets unknown status %q", d.Entity, alias, target)
		}
	}
	return nil
}

// branchOrigin returns the step index of the first step (in step order)
// that lists s as a branch target. Targets of a branch status inherit that
// status's origin. Returns -1 when s is not a branch target.
func (d *Definition) branchOrigin(s Status) int {
	for i, step := range d.Steps {
		if slices.Contains(d.Branches[step], s) {
			return i
		}
	}
	for _, origin := range d.branchOrigins() {
		if slices.Contains(d.Steps, origin) || origin == s {
			continue
		}
		if slices.Contains(d.Branches[origin], s) {
			for i, step := range d.Steps {
				if slices.Contains(d.Branches[step], origin) {
					return i
				}
			}
		}
	}
	return -1
}

func (d *Definition) branchOrigins() []Status {
	out := make([]Status, 0, len(d.Branches))
	for origin := range d.Branches {
		out = append(out, origin)
	}
	slices.Sort(out)
	return out
}

func (d *Definition) isMember(s Status) bool {
	return slices.Contains(d.members(), s)
}

func (d *Definition) members() []Status {
	out := slices.Clone(d.Steps)
	for _, origin := range d.branchOrigins() {
		out = append(out, d.Branches[origin]...)
	}
	if d.Cancel != "" {
		out = append(out, d.Cancel)
	}
	return out
}

func normalizeKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
