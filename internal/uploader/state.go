package uploader

// State is the orchestrator's position in the upload flow.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateFingerprinting
	StateAwaitingConfirmation
	StateUploading
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateFingerprinting:
		return "fingerprinting"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateUploading:
		return "uploading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
