package model

// WebSocket message types
const (
	WSMessageTypeState    = "state"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStateMessage announces a workflow state transition
type WSStateMessage struct {
	Type        string          `json:"type"`
	ExecutionID string          `json:"executionId"`
	State       WorkflowState   `json:"state"`
	Status      ExecutionStatus `json:"status"`
	Detail      string          `json:"detail,omitempty"`
}

// WSCompleteMessage announces a succeeded execution
type WSCompleteMessage struct {
	Type        string      `json:"type"`
	ExecutionID string      `json:"executionId"`
	Result      interface{} `json:"result"`
}

// WSErrorMessage announces a failed execution
type WSErrorMessage struct {
	Type        string  `json:"type"`
	ExecutionID string  `json:"executionId"`
	Error       WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
