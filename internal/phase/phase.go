// Package phase defines the fixed lifecycle graph of an autopilot loop.
//
// The graph is a closed set of six phases. Legal moves are a table lookup, so
// callers never compare free-form strings to decide whether a transition is
// allowed.
package phase

import (
	"encoding/json"
	"fmt"
)

// Phase is a node in the lifecycle graph.
type Phase string

const (
	Planning  Phase = "planning"
	Execution Phase = "execution"
	Review    Phase = "review"
	Assess    Phase = "assess"
	Complete  Phase = "complete"
	Failed    Phase = "failed"
)

// order is graph order; Records and status output iterate in this order.
var order = []Phase{Planning, Execution, Review, Assess, Complete, Failed}

// edges is the adjacency table. Assess -> Planning is the retry edge.
var edges = map[Phase][]Phase{
	Planning:  {Execution},
	Execution: {Review},
	Review:    {Assess},
	Assess:    {Planning, Complete, Failed},
	Complete:  nil,
	Failed:    nil,
}

// All returns every phase in graph order.
func All() []Phase {
	out := make([]Phase, len(order))
	copy(out, order)
	return out
}

// Parse converts s into a Phase, rejecting anything outside the graph.
func Parse(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q (valid: planning, execution, review, assess, complete, failed)", s)
	}
	return p, nil
}

// Valid reports whether p is one of the six phases.
func (p Phase) Valid() bool {
	_, ok := edges[p]
	return ok
}

// IsTerminal reports whether p has no outgoing edges.
func (p Phase) IsTerminal() bool {
	return p == Complete || p == Failed
}

// Next lists the phases reachable from p in one step.
func Next(p Phase) []Phase {
	next := edges[p]
	out := make([]Phase, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is an edge.
func CanTransition(from, to Phase) bool {
	for _, p := range edges[from] {
		if p == to {
			return true
		}
	}
	return false
}

func (p Phase) String() string { return string(p) }

// UnmarshalJSON rejects unknown phase names so a decoded document can never
// carry a phase outside the graph.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("phase must be a string: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is the per-phase progress marker.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("phase status must be a string: %w", err)
	}
	st := Status(raw)
	if !st.Valid() {
		return fmt.Errorf("unknown phase status %q", raw)
	}
	*s = st
	return nil
}
