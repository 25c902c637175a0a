package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/codenotary/immudb/pkg/api/schema"
	"github.com/eaglebank/core-banking/shared/events"
)

type execCall struct {
	sql    string
	params map[string]interface{}
}

type mockSession struct {
	calls  []execCall
	execFn func(sql string) error
	closed bool
}

func (m *mockSession) SQLExec(ctx context.Context, sql string, params map[string]interface{}) (*schema.SQLExecResult, error) {
	m.calls = append(m.calls, execCall{sql: sql, params: params})
	if m.execFn != nil {
		if err := m.execFn(sql); err != nil {
			return nil, err
		}
	}
	return &schema.SQLExecResult{}, nil
}

func (m *mockSession) CloseSession(ctx context.Context) error {
	m.closed = true
	return nil
}

func TestMigrateCreatesTable(t *testing.T) {
	m := &mockSession{execFn: func(sql string) error {
		if strings.Contains(sql, "INDEX") {
			return errors.New("index exists")
		}
		return nil
	}}
	l := newLedger(m, "")

	if err := l.migrate(context.Background()); err != nil {
		t.Fatalf("expected index failure to be tolerated, got %v", err)
	}
	if !strings.HasPrefix(m.calls[0].sql, "CREATE TABLE IF NOT EXISTS cbs_audit_ledger") {
		t.Errorf("unexpected statement %q", m.calls[0].sql)
	}
}

func TestHandleAppendsAuditEvents(t *testing.T) {
	m := &mockSession{}
	l := newLedger(m, "audit_mirror")
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		event    events.Event
		expected int
	}{
		{
			name: "audit event",
			event: events.Event{Type: events.AuditRecorded, Data: map[string]any{
				"auditId": "AUD-1", "operationId": "OP-1", "sequence": 7, "action": "DEPOSIT",
				"recordedAt": at.Format(time.RFC3339),
			}},
			expected: 1,
		},
		{
			name:     "other event ignored",
			event:    events.Event{Type: "something.else", Data: map[string]any{}},
			expected: 0,
		},
	}
	for _, tc := range tests {
		m.calls = nil
		if err := l.Handle(context.Background(), tc.event); err != nil {
			t.Errorf("[%s] unexpected error: %v", tc.name, err)
		}
		if len(m.calls) != tc.expected {
			t.Errorf("[%s] expected %d statements got %d", tc.name, tc.expected, len(m.calls))
		}
	}

	l.Handle(context.Background(), tests[0].event)
	call := m.calls[0]
	if !strings.HasPrefix(call.sql, "UPSERT INTO audit_mirror") {
		t.Errorf("unexpected statement %q", call.sql)
	}
	if call.params["sequence"] != int64(7) || call.params["audit_id"] != "AUD-1" {
		t.Errorf("unexpected params %v", call.params)
	}
	if ts, _ := call.params["recorded_at"].(time.Time); !ts.Equal(at) {
		t.Errorf("expected recorded_at %v got %v", at, call.params["recorded_at"])
	}
}

func TestAppendWrapsErrors(t *testing.T) {
	m := &mockSession{execFn: func(string) error { return errors.New("server gone") }}
	l := newLedger(m, "")

	err := l.Append(context.Background(), events.AuditRecordedEvent{AuditID: "AUD-9"})
	if err == nil || !strings.Contains(err.Error(), "AUD-9") {
		t.Errorf("expected wrapped error naming the record, got %v", err)
	}
	l.Close()
	if !m.closed {
		t.Errorf("expected session to be closed")
	}
}
