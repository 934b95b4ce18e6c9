package common

// StatusSuccess is the status value of successful responses
const StatusSuccess = "success"

// StatusResponse is returned by the health check and the manual trigger
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// MessageResponse is returned by the root endpoint
type MessageResponse struct {
	Message string `json:"message"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Detail string `json:"detail"`
}
