package models

// Priority selects the processing queue for a finished upload.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ProcessingOptions travel with the upload as the processing_options JSON
// part. Field names are fixed by the wire contract.
type ProcessingOptions struct {
	EnableValidation         bool     `json:"enable_validation"`
	EnableAutoResolution     bool     `json:"enable_auto_resolution"`
	EnableEmailNotifications bool     `json:"enable_email_notifications"`
	EnableDeltaProcessing    bool     `json:"enable_delta_processing"`
	Priority                 Priority `json:"priority"`
}

// DefaultProcessingOptions mirrors the defaults the upload form starts with.
func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		EnableValidation:      true,
		EnableDeltaProcessing: true,
		Priority:              PriorityNormal,
	}
}

// UploadResult is the server's answer to a completed upload, whether it
// arrived in one request or was stitched from chunks.
type UploadResult struct {
	SessionID     string `json:"session_id"`
	CarFileID     string `json:"car_file_id"`
	ReceiptFileID string `json:"receipt_file_id"`
	TaskID        string `json:"task_id,omitempty"`
	Status        string `json:"status"`
}

// FinalizeRequest asks the service to stitch two chunked uploads into the
// session pair. Field names are fixed by the wire contract.
type FinalizeRequest struct {
	CarFileID         string            `json:"car_file_id"`
	ReceiptFileID     string            `json:"receipt_file_id"`
	ProcessingOptions ProcessingOptions `json:"processing_options"`
}
