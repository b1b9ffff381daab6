package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Telemetry string `json:"telemetry,omitempty"`
}

// ErrorResponse is the body echo writes for a failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}
