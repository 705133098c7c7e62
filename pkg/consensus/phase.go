package consensus

import "fmt"

// Phase is the processing phase of a candidate block in the tip
// manager.
type Phase int

// candidate processing phases
const (
	Idle Phase = iota
	ValidatingCandidate
	ApplyingTransition
	TipUpdated
	Pruning
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case ValidatingCandidate:
		return "validating"
	case ApplyingTransition:
		return "applying"
	case TipUpdated:
		return "tip_updated"
	case Pruning:
		return "pruning"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseHook observes the phase transitions of the candidates.
type PhaseHook func(block Hash, from, to Phase)

var validTransitions = map[Phase][]Phase{
	Idle:                {ValidatingCandidate},
	ValidatingCandidate: {Idle, ApplyingTransition},
	ApplyingTransition:  {Idle, TipUpdated},
	TipUpdated:          {Pruning, Idle},
	Pruning:             {Idle},
}

// validTransition reports whether the phase transition is allowed.
func validTransition(from, to Phase) bool {
	for _, p := range validTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// candidatePhase tracks the phase of one candidate.
type candidatePhase struct {
	block Hash
	cur   Phase
	hook  PhaseHook
	m     *metrics
}

func (c *candidatePhase) to(p Phase) {
	if !validTransition(c.cur, p) {
		panic(fmt.Errorf("invalid phase transition %v -> %v for block %v", c.cur, p, c.block))
	}

	if c.m != nil {
		c.m.phases.WithLabelValues(c.cur.String(), p.String()).Inc()
	}

	if c.hook != nil {
		c.hook(c.block, c.cur, p)
	}
	c.cur = p
}
