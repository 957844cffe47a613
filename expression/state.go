package expression

// State is the lifecycle state of a UserExpression.
type State int

const (
	Unprepared State = iota
	Prepared
	Running
	Finalized
	Aborted
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unprepared:
		return "unprepared"
	case Prepared:
		return "prepared"
	case Running:
		return "running"
	case Finalized:
		return "finalized"
	case Aborted:
		return "aborted"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// transitions lists the states each state may move to. Aborted is
// reachable from every live state.
var transitions = map[State][]State{
	Unprepared: {Prepared, Aborted, Destroyed},
	Prepared:   {Prepared, Running, Aborted, Destroyed},
	Running:    {Prepared, Finalized, Aborted},
	Finalized:  {Prepared, Aborted, Destroyed},
	Aborted:    {Prepared, Aborted, Destroyed},
}

func (s State) canMoveTo(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}
