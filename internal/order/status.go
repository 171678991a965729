package order

import "errors"

var (
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrIllegalTransition = errors.New("illegal status transition")
)

type Status string

const (
	StatusNew       Status = "new"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusServed    Status = "served"
	StatusCancelled Status = "cancelled"
)

// transitions is the authoritative graph: the forward path, cancel from new,
// and the explicit send-backs. served and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusNew:       {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusNew},
	StatusReady:     {StatusServed, StatusPreparing},
	StatusServed:    {},
	StatusCancelled: {},
}

func Parse(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", ErrUnknownStatus
	}
	return st, nil
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}
