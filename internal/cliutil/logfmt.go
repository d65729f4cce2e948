package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/corral/internal/engine"
)

// LogRecord represents a structured lifecycle event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Product   string    `json:"product,omitempty"`
	App       string    `json:"app,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts an engine event into a structured log record with
// secrets masked.
func NewLogRecord(event engine.Event) LogRecord {
	record := LogRecord{
		Timestamp: event.Timestamp,
		Product:   event.Product,
		App:       event.App,
		PID:       event.PID,
		Type:      string(event.Type),
		Reason:    event.Reason,
		Level:     EventLogLevel(event),
		Message:   RedactSecrets(event.Message),
	}
	if event.Outcome != engine.Okay {
		record.Outcome = event.Outcome.String()
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

// EventLogLevel picks a log level for an event from its type, falling back to
// level tokens in the message.
func EventLogLevel(event engine.Event) string {
	if event.Err != nil || event.Type == engine.EventTypeLaunchFailed {
		return "error"
	}
	switch event.Type {
	case engine.EventTypeEscalated, engine.EventTypeKilled, engine.EventTypeGagged:
		return "warn"
	}
	if inferred := inferLogLevel(event.Message); inferred != "" {
		return inferred
	}
	return "info"
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|info)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn":
		return "warn"
	case "info":
		return "info"
	default:
		return ""
	}
}

// EncodeLogEvent encodes an event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}
