package updater

import "fmt"

// State is the position of a session in the update sequence.
type State int

const (
	StateIdle State = iota
	StateRcEnabled
	StateErasing
	StateWriting
	StateVerifying
	StateActivated

	// StateRolledBack is terminal: the previous image was restored
	StateRolledBack

	// StateAborted is terminal: a step failed and flash content is
	// indeterminate
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateRcEnabled:  "rc-enabled",
	StateErasing:    "erasing",
	StateWriting:    "writing",
	StateVerifying:  "verifying",
	StateActivated:  "activated",
	StateRolledBack: "rolled-back",
	StateAborted:    "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible, other than
// a rollback out of an aborted activation.
func (s State) Terminal() bool {
	return s == StateRolledBack || s == StateAborted
}
