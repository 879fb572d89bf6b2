package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusActivated  Status = "activated"
	StatusInProgress Status = "in_progress"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// delivered -> in_progress is the only backward edge (delivery rejected).
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusActivated: true, StatusCancelled: true},
	StatusActivated:  {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusDelivered: true, StatusCompleted: true, StatusCancelled: true},
	StatusDelivered:  {StatusInProgress: true, StatusCompleted: true, StatusCancelled: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// InFlightStatuses block a second order for the same source.
var InFlightStatuses = []Status{StatusPending, StatusActivated}

func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusActivated
}
