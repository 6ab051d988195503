package discovery

// outcome classifies one listing page fetch.
type outcome int

const (
	outcomeEntries outcome = iota
	outcomeEmpty
	outcomeNotFound
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeEntries:
		return "entries"
	case outcomeEmpty:
		return "empty"
	case outcomeNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// paginationState tracks the miss streak of a listing walk. A miss is an
// empty page or a failed fetch; two in a row end the walk, and any page with
// entries resets the streak.
type paginationState int

const (
	advancing paginationState = iota
	oneMiss
	stopped
)

func (s paginationState) next(o outcome) paginationState {
	if s == stopped {
		return stopped
	}
	switch o {
	case outcomeEntries:
		return advancing
	case outcomeNotFound:
		return stopped
	default:
		if s == oneMiss {
			return stopped
		}
		return oneMiss
	}
}
