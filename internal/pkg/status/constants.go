package status

// Status represents the main job state
type Status int

const (
	// Pending - created, waiting for a worker
	Pending Status = iota + 1
	// Processing step
	Processing
	// Completed - terminal
	Completed
	// Failed - terminal
	Failed
	// Cancelled - terminal
	Cancelled
)

var (
	statusName = map[Status]string{Pending: "Pending", Processing: "Processing",
		Completed: "Completed", Failed: "Failed", Cancelled: "Cancelled"}
	nameStatus = map[string]Status{"Pending": Pending, "Processing": Processing,
		"Completed": Completed, "Failed": Failed, "Cancelled": Cancelled}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// IsTerminal returns true if no further transition may happen
func IsTerminal(st Status) bool {
	return st == Completed || st == Failed || st == Cancelled
}

// Translation sub-state values, orthogonal to the main status
const (
	TrPending     = "Pending"
	TrTranslating = "Translating"
	TrFailed      = "Failed"
)

// Webhook delivery states
const (
	DeliveryPending = "Pending"
	DeliverySent    = "Sent"
	DeliveryFailed  = "Failed"
)

// Upload session states
const (
	SessionUploading = "Uploading"
	SessionReady     = "Ready"
	SessionExpired   = "Expired"
)
