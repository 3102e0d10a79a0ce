package domain

// SubmitStatus is the per-event answer given to a publisher
type SubmitStatus string

const (
	// SubmitAccepted means the event is queued and will be processed
	SubmitAccepted SubmitStatus = "accepted"
	// SubmitRejected means the queue was full or closed; the publisher may retry
	SubmitRejected SubmitStatus = "rejected"
	// SubmitInvalid means the event failed validation and will never be processed
	SubmitInvalid SubmitStatus = "invalid"
)

// SubmitResult describes what happened to one submitted event
type SubmitResult struct {
	Topic   string
	EventID string
	Status  SubmitStatus
	Error   string
}

// Accepted reports whether the event made it into the queue
func (r SubmitResult) Accepted() bool {
	return r.Status == SubmitAccepted
}
