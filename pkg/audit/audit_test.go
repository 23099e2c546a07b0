package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAuditor(t *testing.T) (*Auditor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	return New(zap.New(core)), logs
}

func TestInjectionAttemptLogsAtErrorLevel(t *testing.T) {
	a, logs := newObservedAuditor(t)

	a.InjectionAttempt(InjectionDetails{
		Position:    1,
		Value:       "'; DROP TABLE users--",
		Fingerprint: "s&1c",
		SQL:         "SELECT id FROM orders WHERE name = ?",
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, string(EventInjectionAttempt), fields["event_type"])
	assert.Equal(t, "critical", fields["severity"])

	var event Event
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventInjectionAttempt, event.EventType)
	assert.NotZero(t, event.ID)
}

func TestSchemaChangeLogsAtInfoLevel(t *testing.T) {
	a, logs := newObservedAuditor(t)

	a.SchemaChange(SchemaChangeDetails{
		Action: "create_index",
		Table:  "orders",
		Index:  "idx_orders_customer_id",
		SQL:    "CREATE INDEX idx_orders_customer_id ON orders (customer_id)",
		Status: "succeeded",
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, string(EventSchemaChange), entries[0].ContextMap()["event_type"])
}

func TestNilAuditorIsSafe(t *testing.T) {
	var a *Auditor
	a.InjectionAttempt(InjectionDetails{})
	a.SchemaChange(SchemaChangeDetails{})
}
