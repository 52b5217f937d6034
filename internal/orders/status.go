package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// validNext is the whole lifecycle: an order leaves pending exactly once,
// and every destination is final.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusFailed: true, StatusCancelled: true},
	StatusConfirmed: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}
