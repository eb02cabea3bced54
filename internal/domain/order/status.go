package order

// Status is an order lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCanceled   Status = "canceled"
)

// transitions is the edge table of the order state machine. Every status
// change, whether requested explicitly or applied implicitly by a claim,
// must correspond to an edge here.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusProcessing, StatusCanceled},
	StatusProcessing: {StatusShipped, StatusCanceled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCanceled:   {},
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	edges, ok := transitions[s]
	return ok && len(edges) == 0
}

// ActiveStatuses are the non-terminal statuses an executor-held order can be
// in. They count against the executor capacity limit.
func ActiveStatuses() []Status {
	return []Status{StatusProcessing, StatusShipped}
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status from which to is directly reachable.
// The result is empty for StatusCreated (initial) and for unknown statuses.
func SourcesOf(to Status) []Status {
	var sources []Status
	for from, edges := range transitions {
		for _, next := range edges {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}
