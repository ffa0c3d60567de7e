package models

import "time"

type TransformationResponse struct {
	Snapshot
}

type AccessTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type JobAcceptedResponse struct {
	Status           string `json:"status"`
	TransformationID string `json:"transformation_id"`
}

type QuotaResponse struct {
	Quota
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}
