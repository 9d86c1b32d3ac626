package engine

import (
	"strconv"

	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

// State is the lifecycle state of a pipeline run by the engine.
type State uint8

const (
	Parsed State = iota
	Resolving
	Spawning
	Running
	Completed
	Failed
	Interrupted
)

var stateNames = [...]string{"parsed", "resolving", "spawning", "running", "completed", "failed", "interrupted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s >= Completed }

// next lists the states reachable from each state. Any non-terminal state
// may fail; only a running pipeline can complete or be interrupted.
var next = map[State][]State{
	Parsed:    {Resolving, Failed},
	Resolving: {Spawning, Failed},
	Spawning:  {Running, Failed, Interrupted},
	Running:   {Completed, Failed, Interrupted},
}

// advance moves *s to to, rejecting transitions the lifecycle forbids.
func (s *State) advance(to State) error {
	for _, ok := range next[*s] {
		if ok == to {
			*s = to
			return nil
		}
	}
	return shellerr.Runtimef(shellerr.Internal, "pipeline: illegal transition %s -> %s", *s, to)
}
