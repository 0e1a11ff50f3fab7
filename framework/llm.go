package framework

import (
	"context"
	"errors"
	"fmt"
)

// LLMOptions configure a single generation call.
type LLMOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
}

// LLMResponse is the raw text returned by a backend.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// LanguageModel is the narrow text-completion contract the loops depend on.
// Implementations return *BackendError for transport and server failures.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
}

// BackendErrorKind classifies backend failures.
type BackendErrorKind int

const (
	BackendUnreachable BackendErrorKind = iota
	BackendTimeout
	BackendRejected
)

func (k BackendErrorKind) String() string {
	switch k {
	case BackendUnreachable:
		return "unreachable"
	case BackendTimeout:
		return "timeout"
	case BackendRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// BackendError is a typed model backend failure.
type BackendError struct {
	Kind    BackendErrorKind
	Backend string
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s backend %s (status %d): %s", e.Backend, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s backend %s: %s", e.Backend, e.Kind, msg)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DescribeBackendError renders a failure as the text a loop uses in place of
// a model response. The text never contains the tool-call sentinel.
func DescribeBackendError(err error) string {
	if err == nil {
		return ""
	}
	var be *BackendError
	if !errors.As(err, &be) {
		return "Error: model backend failed: " + sanitizeError(err)
	}
	switch be.Kind {
	case BackendUnreachable:
		return fmt.Sprintf("Error: cannot reach the %s model backend. Make sure it is running and reachable.", be.Backend)
	case BackendTimeout:
		return fmt.Sprintf("Error: the %s model backend timed out.", be.Backend)
	default:
		return fmt.Sprintf("Error: the %s model backend rejected the request: %s", be.Backend, sanitizeText(be.Message))
	}
}
