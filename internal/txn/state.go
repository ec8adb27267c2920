// Package txn drives one producer through the transactional protocol and
// sequences records into it.
package txn

type State int

const (
	Uninitialized State = iota
	Initialized
	Open
	Committed
	Aborted
	Fenced // terminal
	Fatal  // terminal
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Initialized:   "initialized",
	Open:          "open",
	Committed:     "committed",
	Aborted:       "aborted",
	Fenced:        "fenced",
	Fatal:         "fatal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal states accept no further operations except Close.
func (s State) Terminal() bool { return s == Fenced || s == Fatal }
