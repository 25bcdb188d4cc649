package logger

import (
	"github.com/fyrsmithlabs/opsgate/internal/event"
)

// Convenience wrappers for callers that do not need the full record.

func (l *Logger) Debug(eventName, msg string, ctxMap map[string]any) {
	l.Log(&event.Record{Severity: event.SeverityDebug, Event: eventName, Message: msg, Context: ctxMap})
}

func (l *Logger) Info(eventName, msg string, ctxMap map[string]any) {
	l.Log(&event.Record{Severity: event.SeverityInfo, Event: eventName, Message: msg, Context: ctxMap})
}

func (l *Logger) Warn(eventName, msg string, ctxMap map[string]any) {
	l.Log(&event.Record{Severity: event.SeverityWarn, Event: eventName, Message: msg, Context: ctxMap})
}

// Error attaches structured error detail; err may be nil.
func (l *Logger) Error(eventName, msg string, err error, ctxMap map[string]any) {
	rec := &event.Record{Severity: event.SeverityError, Event: eventName, Message: msg, Context: ctxMap}
	if err != nil {
		rec.Err = &event.ErrorInfo{Type: "error", Message: err.Error()}
	}
	l.Log(rec)
}
