// Package net defines the synchronous product net data model consumed by
// the unfolding engine: places, transitions, markings, and the SKIP-rule
// move-kind classification. Construction of the synchronous product net
// itself (combining a trace model and a process model) is an external
// collaborator's job; this package only supplies the representation and
// the default cost function.
package net

import (
	"fmt"

	"github.com/rawblock/alignerd/pkg/models"
)

// SKIP marks the absent side of a log/model name pair on a place or
// transition of the synchronous product.
const SKIP = ">>"

// SilentTransition is the label used for a transition with no observable
// activity on either side.
const SilentTransition = "τ"

// Place is a place of the synchronous product net.
type Place struct {
	ID    string
	Label string
	Kind  models.MoveKind
}

// Transition is a transition of the synchronous product net.
type Transition struct {
	ID     string
	Label  string
	Silent bool
	Kind   models.MoveKind
	Cost   int
}

// Arc connects a place and a transition. Direction is implied by which
// side the Source ID resolves to: place->transition arcs feed the
// transition's preset, transition->place arcs produce its postset.
type Arc struct {
	Source string
	Target string
}

// Marking is a 1-safe marking: a set of place IDs.
type Marking map[string]struct{}

// NewMarking builds a Marking from the given place IDs.
func NewMarking(places ...string) Marking {
	m := make(Marking, len(places))
	for _, p := range places {
		m[p] = struct{}{}
	}
	return m
}

// Places returns the marking's place IDs.
func (m Marking) Places() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

// SyncNet is a synchronous product Petri net: places and transitions
// carrying move kinds, plus the bipartite arc relation and the indices
// the unfolding engine needs (preset/postset per transition, the set of
// transitions fed by each place).
type SyncNet struct {
	Places      map[string]*Place
	Transitions map[string]*Transition
	Arcs        []Arc

	presetByTransition  map[string][]string
	postsetByTransition map[string][]string
	outByPlace          map[string][]string
}

// NewSyncNet returns an empty net ready for incremental construction.
func NewSyncNet() *SyncNet {
	return &SyncNet{
		Places:              make(map[string]*Place),
		Transitions:         make(map[string]*Transition),
		presetByTransition:  make(map[string][]string),
		postsetByTransition: make(map[string][]string),
		outByPlace:          make(map[string][]string),
	}
}

// DeriveKind recovers a move kind from a log/model name pair using the
// SKIP sentinel: an absent model side is a log-move, an absent log side
// is a model-move, and a pair present on both sides is a sync-move.
func DeriveKind(logName, modelName string) models.MoveKind {
	switch {
	case modelName == SKIP:
		return models.MoveLog
	case logName == SKIP:
		return models.MoveModel
	default:
		return models.MoveSync
	}
}

// AddPlace registers a place and derives its kind from the log/model name
// pair (the label carried forward is whichever side is present; for a
// sync place both sides already agree by construction upstream).
func (n *SyncNet) AddPlace(id, logName, modelName string) *Place {
	p := &Place{ID: id, Label: pairLabel(logName, modelName), Kind: DeriveKind(logName, modelName)}
	n.Places[id] = p
	return p
}

// AddTransition registers a transition with the given cost, deriving its
// kind and silence from the log/model label pair.
func (n *SyncNet) AddTransition(id, logName, modelName string, cost int) *Transition {
	label := pairLabel(logName, modelName)
	t := &Transition{
		ID:     id,
		Label:  label,
		Silent: label == SilentTransition || label == "",
		Kind:   DeriveKind(logName, modelName),
		Cost:   cost,
	}
	n.Transitions[id] = t
	return t
}

func pairLabel(logName, modelName string) string {
	if logName != SKIP && logName != "" {
		return logName
	}
	return modelName
}

// AddArc wires a place/transition pair. Exactly one of source/target must
// name a place already registered via AddPlace, and the other a
// transition already registered via AddTransition.
func (n *SyncNet) AddArc(source, target string) error {
	n.Arcs = append(n.Arcs, Arc{Source: source, Target: target})

	if _, ok := n.Places[source]; ok {
		if _, ok := n.Transitions[target]; !ok {
			return fmt.Errorf("net: arc %s->%s: target is not a known transition", source, target)
		}
		n.presetByTransition[target] = append(n.presetByTransition[target], source)
		n.outByPlace[source] = append(n.outByPlace[source], target)
		return nil
	}

	if _, ok := n.Transitions[source]; ok {
		if _, ok := n.Places[target]; !ok {
			return fmt.Errorf("net: arc %s->%s: target is not a known place", source, target)
		}
		n.postsetByTransition[source] = append(n.postsetByTransition[source], target)
		return nil
	}

	return fmt.Errorf("net: arc %s->%s: source is neither a known place nor transition", source, target)
}

// Preset returns the place IDs feeding the given transition.
func (n *SyncNet) Preset(transitionID string) []string {
	return n.presetByTransition[transitionID]
}

// Postset returns the place IDs produced by the given transition.
func (n *SyncNet) Postset(transitionID string) []string {
	return n.postsetByTransition[transitionID]
}

// OutTransitions returns the transitions whose preset includes the given
// place, i.e. the transitions enabled (in part) by a token on that place.
func (n *SyncNet) OutTransitions(placeID string) []string {
	return n.outByPlace[placeID]
}

// DefaultCostFunction implements the rule from spec.md section 6.1: a
// nonnegative integer cost per transition, 1 for any log-move or
// model-move, 0 for any sync-move (silent sync pairs included, since
// they are sync-moves too).
func DefaultCostFunction(n *SyncNet) map[string]int {
	cost := make(map[string]int, len(n.Transitions))
	for id, t := range n.Transitions {
		if t.Kind == models.MoveSync {
			cost[id] = 0
		} else {
			cost[id] = 1
		}
	}
	return cost
}

// Clone returns a deep copy, used by the search driver so that the
// artificial final-state augmentation (AddFinalState) never mutates the
// caller's net.
func (n *SyncNet) Clone() *SyncNet {
	c := NewSyncNet()
	for id, p := range n.Places {
		cp := *p
		c.Places[id] = &cp
	}
	for id, t := range n.Transitions {
		ct := *t
		c.Transitions[id] = &ct
	}
	for k, v := range n.presetByTransition {
		c.presetByTransition[k] = append([]string(nil), v...)
	}
	for k, v := range n.postsetByTransition {
		c.postsetByTransition[k] = append([]string(nil), v...)
	}
	for k, v := range n.outByPlace {
		c.outByPlace[k] = append([]string(nil), v...)
	}
	c.Arcs = append([]Arc(nil), n.Arcs...)
	return c
}

// AddFinalState augments the net with an artificial final transition
// "tr" whose preset is the final marking, and an artificial sink place
// "pr" in its postset, both at zero cost. The search driver's
// termination condition (spec.md section 4.5) fires when "tr" is popped.
func AddFinalState(n *SyncNet, fm Marking, cost map[string]int) (trID, placeID string) {
	const trID_, placeID_ = "tr", "pr"

	n.AddTransition(trID_, "", "", 0)
	n.Transitions[trID_].Silent = true
	n.AddPlace(placeID_, "", "")

	for fp := range fm {
		_ = n.AddArc(fp, trID_)
	}
	_ = n.AddArc(trID_, placeID_)

	cost[trID_] = 0

	return trID_, placeID_
}
