// Package workflow defines the complaint status lifecycle.
package workflow

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

// statusOrder gives each status its position in the forward-only lifecycle.
var statusOrder = map[Status]int{
	StatusPending:    0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusResolved:   3,
}

var ErrUnknownStatus = fmt.Errorf("unknown status")

// Valid reports whether s is one of the four lifecycle states.
func Valid(s Status) bool {
	_, ok := statusOrder[s]
	return ok
}

// Order returns the lifecycle position of s. Unknown statuses return -1.
func Order(s Status) int {
	order, ok := statusOrder[s]
	if !ok {
		return -1
	}
	return order
}

// Terminal reports whether s admits no further transitions.
func Terminal(s Status) bool {
	return s == StatusResolved
}

// CanTransition reports whether a plain status update from one status to the
// next is legal.
//
// Rules:
//   - pending never leaves via a status update. Assignment is the only exit:
//     it performs the pending -> assigned move itself while binding the
//     agent, so an "assigned" complaint always has one.
//   - assigned -> in-progress, in-progress -> resolved, and the shortcut
//     assigned -> resolved are all legal.
//   - resolved is terminal; nothing ever re-enters pending.
func CanTransition(from, to Status) bool {
	if !Valid(from) || !Valid(to) {
		return false
	}
	if Terminal(from) || from == StatusPending {
		return false
	}
	if to == StatusPending {
		return false
	}
	return statusOrder[to] > statusOrder[from]
}
