// Package audit records security- and schema-relevant events in structured
// JSON form so an external log pipeline can alert on them. Two event families
// exist: rejected query parameters (possible injection attempts) and DDL the
// optimizer applied to the target database.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voca9204/db3-sub000/pkg/logging"
)

// EventType categorizes auditable events for filtering and alerting.
type EventType string

const (
	// EventInjectionAttempt is recorded when a query parameter matches a
	// SQL injection fingerprint.
	EventInjectionAttempt EventType = "sql_injection_attempt"
	// EventSchemaChange is recorded for every index the optimizer created
	// or dropped.
	EventSchemaChange EventType = "schema_change"
)

// Event is one auditable occurrence.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Details   any       `json:"details"`
	Severity  string    `json:"severity"` // info, warning, critical
}

// InjectionDetails carries the specifics of a rejected parameter.
type InjectionDetails struct {
	Position    int    `json:"position"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"`
	SQL         string `json:"sql"`
}

// SchemaChangeDetails carries the specifics of one applied DDL action.
type SchemaChangeDetails struct {
	Action string `json:"action"` // create_index, drop_index, create_composite_index
	Table  string `json:"table"`
	Index  string `json:"index"`
	SQL    string `json:"sql"`
	Status string `json:"status"`
}

// Auditor writes events through a dedicated logger namespace so a log
// pipeline can route them separately from operational logs.
type Auditor struct {
	logger *zap.Logger
}

// New creates an Auditor. A nil receiver is usable; all methods no-op.
func New(logger *zap.Logger) *Auditor {
	return &Auditor{logger: logger.Named("audit")}
}

// InjectionAttempt records a rejected query parameter at error level.
func (a *Auditor) InjectionAttempt(details InjectionDetails) {
	if a == nil {
		return
	}
	details.Value = logging.TruncateString(details.Value, 200)
	details.SQL = logging.SanitizeQuery(details.SQL)
	a.log("sql injection attempt detected", zap.ErrorLevel, Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: EventInjectionAttempt,
		Details:   details,
		Severity:  "critical",
	})
}

// SchemaChange records one applied DDL action at info level.
func (a *Auditor) SchemaChange(details SchemaChangeDetails) {
	if a == nil {
		return
	}
	a.log("schema changed", zap.InfoLevel, Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: EventSchemaChange,
		Details:   details,
		Severity:  "info",
	})
}

func (a *Auditor) log(msg string, level zapcore.Level, event Event) {
	// marshalling known types does not fail
	eventJSON, _ := json.Marshal(event)
	a.logger.Log(level, msg,
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", event.Severity),
		zap.String("event_json", string(eventJSON)),
	)
}
