package subscription

import "slices"

// transitions is the status transition table. Canceled is terminal for a
// subscription instance; a new instance may later be created for the same
// (tenant, plugin) pair.
var transitions = map[Status][]Status{
	StatusTrialing: {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:   {StatusPastDue, StatusCanceled},
	StatusPastDue:  {StatusActive, StatusCanceled},
	StatusCanceled: {},
}

// CanTransition reports whether the status change is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return slices.Contains(transitions[from], to)
}
