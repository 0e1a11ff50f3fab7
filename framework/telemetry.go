package framework

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventRunFinish       EventType = "run_finish"
	EventRoundStart      EventType = "round_start"
	EventModelCall       EventType = "model_call"
	EventModelResponse   EventType = "model_response"
	EventModelError      EventType = "model_error"
	EventToolCall        EventType = "tool_call"
	EventToolResult      EventType = "tool_result"
	EventFixRound        EventType = "fix_round"
	EventFixVerification EventType = "fix_verification"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Round     int                    `json:"round,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry receives loop events. Tests typically swap in a recorder.
type Telemetry interface {
	Emit(event Event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.enc = nil
		return err
	}
	return nil
}

// LoggerTelemetry emits events at debug level through clog.
type LoggerTelemetry struct {
	Logger *clog.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = clog.FromContext(context.Background())
	}
	logger.With("event", string(event.Type), "run", event.RunID, "round", event.Round).
		Debug(event.Message, "meta", event.Metadata)
}
