package models

// ErrorKind classifies an adapter failure for the retry policy.
type ErrorKind string

const (
	// ErrorKindRetryable covers timeouts and transport-level failures.
	ErrorKindRetryable ErrorKind = "retryable"
	// ErrorKindFatal covers authentication and target-not-found failures.
	ErrorKindFatal ErrorKind = "fatal"
)

// Result is the uniform envelope returned by the dispatcher for every
// platform, so the engine never branches on platform identity.
type Result struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
}
