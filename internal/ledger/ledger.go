// Package ledger mirrors audit records into an immudb table so that the audit
// trail can be verified against later tampering. It is fed from the audit
// event stream and is optional.
package ledger

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/codenotary/immudb/pkg/api/schema"
	"github.com/codenotary/immudb/pkg/client"
	"github.com/eaglebank/core-banking/shared/events"
)

const DefaultTable = "cbs_audit_ledger"

type Config struct {
	Addr     string
	Username string
	Password string
	Database string
	Table    string
}

// session is the part of the immudb client the ledger uses.
type session interface {
	SQLExec(ctx context.Context, sql string, params map[string]interface{}) (*schema.SQLExecResult, error)
	CloseSession(ctx context.Context) error
}

type Ledger struct {
	db    session
	table string
}

// Open starts an immudb session and makes sure the ledger table exists.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse immudb address %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse immudb port %q: %w", portStr, err)
	}
	if cfg.Database == "" {
		cfg.Database = "defaultdb"
	}

	opts := client.DefaultOptions().
		WithAddress(host).
		WithPort(port).
		WithUsername(cfg.Username).
		WithPassword(cfg.Password).
		WithDatabase(cfg.Database)

	c := client.NewClient().WithOptions(opts)
	if err := c.OpenSession(ctx, []byte(cfg.Username), []byte(cfg.Password), cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to connect to immudb: %w", err)
	}

	l := newLedger(c, cfg.Table)
	if err := l.migrate(ctx); err != nil {
		c.CloseSession(ctx)
		return nil, err
	}
	log.Printf("Audit ledger connected: %s/%s table=%s", cfg.Addr, cfg.Database, l.table)
	return l, nil
}

func newLedger(db session, table string) *Ledger {
	if table == "" {
		table = DefaultTable
	}
	return &Ledger{db: db, table: table}
}

func (l *Ledger) migrate(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
		"audit_id VARCHAR[64] NOT NULL, "+
		"operation_id VARCHAR[64], "+
		"sequence INTEGER, "+
		"actor VARCHAR[64], "+
		"action VARCHAR[32], "+
		"entity_type VARCHAR[32], "+
		"entity_id VARCHAR[64], "+
		"before_state VARCHAR, "+
		"after_state VARCHAR, "+
		"detail VARCHAR, "+
		"recorded_at TIMESTAMP, "+
		"PRIMARY KEY audit_id"+
		")", l.table)
	if _, err := l.db.SQLExec(ctx, stmt, nil); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	if _, err := l.db.SQLExec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS ON %s(operation_id)", l.table), nil); err != nil {
		log.Printf("Warning: failed to create ledger index: %v", err)
	}
	return nil
}

// Append stores one audit record. Redelivered records overwrite themselves
// with identical values.
func (l *Ledger) Append(ctx context.Context, ev events.AuditRecordedEvent) error {
	query := fmt.Sprintf("UPSERT INTO %s (audit_id, operation_id, sequence, actor, action, entity_type, entity_id, before_state, after_state, detail, recorded_at) "+
		"VALUES (@audit_id, @operation_id, @sequence, @actor, @action, @entity_type, @entity_id, @before_state, @after_state, @detail, @recorded_at)", l.table)

	params := map[string]interface{}{
		"audit_id":     ev.AuditID,
		"operation_id": ev.OperationID,
		"sequence":     int64(ev.Sequence),
		"actor":        ev.Actor,
		"action":       ev.Action,
		"entity_type":  ev.EntityType,
		"entity_id":    ev.EntityID,
		"before_state": ev.Before,
		"after_state":  ev.After,
		"detail":       ev.Detail,
		"recorded_at":  ev.RecordedAt.UTC(),
	}
	if _, err := l.db.SQLExec(ctx, query, params); err != nil {
		return fmt.Errorf("failed to append audit record %s: %w", ev.AuditID, err)
	}
	return nil
}

// Handle is an events.Handler feeding audit events into the ledger. Other
// event types are acknowledged and ignored.
func (l *Ledger) Handle(ctx context.Context, event events.Event) error {
	if event.Type != events.AuditRecorded {
		return nil
	}
	var ev events.AuditRecordedEvent
	if err := event.Decode(&ev); err != nil {
		return err
	}
	return l.Append(ctx, ev)
}

func (l *Ledger) Close() error {
	return l.db.CloseSession(context.Background())
}
