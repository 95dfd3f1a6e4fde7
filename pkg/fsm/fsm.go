// Package fsm holds explicit (state, event) -> state transition tables for the
// status machines of the domain.
package fsm

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

type Event string

// Rule allows Event to move any state in From to To.
type Rule[S ~string] struct {
	From  []S
	Event Event
	To    S
}

type Machine[S ~string] struct {
	label       string
	transitions map[S]map[Event]S
	terminal    map[S]struct{}
}

// New builds a machine from rules. States listed in terminal accept no event.
func New[S ~string](label string, terminal []S, rules ...Rule[S]) *Machine[S] {
	m := &Machine[S]{
		label:       label,
		transitions: make(map[S]map[Event]S),
		terminal:    make(map[S]struct{}, len(terminal)),
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	for _, rule := range rules {
		for _, from := range rule.From {
			if _, ok := m.terminal[from]; ok {
				panic(fmt.Sprintf("fsm %s: terminal state %s cannot have transitions", label, from))
			}
			events, ok := m.transitions[from]
			if !ok {
				events = make(map[Event]S)
				m.transitions[from] = events
			}
			events[rule.Event] = rule.To
		}
	}
	return m
}

// Next resolves the target state or returns an INVALID_TRANSITION error.
func (m *Machine[S]) Next(from S, event Event) (S, error) {
	if to, ok := m.transitions[from][event]; ok {
		return to, nil
	}
	var zero S
	return zero, pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("%s cannot %s from %s", m.label, event, from)).
		WithDetails(map[string]any{
			"entity": m.label,
			"from":   string(from),
			"event":  string(event),
		})
}

func (m *Machine[S]) Can(from S, event Event) bool {
	_, ok := m.transitions[from][event]
	return ok
}

func (m *Machine[S]) IsTerminal(state S) bool {
	_, ok := m.terminal[state]
	return ok
}

// NonTerminal lists every state with at least one outgoing transition.
func (m *Machine[S]) NonTerminal() []S {
	out := make([]S, 0, len(m.transitions))
	for s := range m.transitions {
		out = append(out, s)
	}
	return out
}
