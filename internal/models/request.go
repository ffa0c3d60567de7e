package models

type CreateTransformationRequest struct {
	// SourcePath is the storage object written by the resumable upload,
	// e.g. "<user_id>/original/<uuid>.mp4".
	SourcePath string `json:"source_path" binding:"required" example:"5f1c.../original/9a2b....mp4"`
	// Effect is one of none, sepia, grayscale, vignette, blur.
	Effect string `json:"effect" binding:"required" example:"sepia"`
}

// TransformationCreatedEvent is the database webhook body sent when a row is
// inserted into the transformations table.
type TransformationCreatedEvent struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Schema string `json:"schema"`
	Record struct {
		ID         string `json:"id"`
		SourcePath string `json:"source_path"`
		Effect     string `json:"effect"`
	} `json:"record"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
