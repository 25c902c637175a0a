// Package audit writes the transaction, audit and security streams. Every
// value passes through the masking rules before it reaches a writer. Streams
// rotate by size and are swept by age.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
	"github.com/shopspring/decimal"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Stream file names under the log directory.
const (
	TransactionStream = "transactions.log"
	AuditStream       = "audit.log"
	SecurityStream    = "security.log"
)

const lineTimestamp = "2006-01-02 15:04:05.000"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Sink receives every audit record after it is written to the audit stream.
type Sink interface {
	RecordAudit(ctx context.Context, rec models.AuditRecord) error
}

type Config struct {
	Dir                string
	MaxSizeMB          int
	RetentionDays      int
	AuditRetentionDays int
}

type stream struct {
	name      string
	w         io.WriteCloser
	retention time.Duration
}

// Logger owns the three streams and the per-process sequence counter. The
// counter keeps running across rotations; a gap in sequence numbers means a
// restart.
type Logger struct {
	dir      string
	txn      *stream
	audit    *stream
	security *stream

	mu       sync.Mutex
	seq      atomic.Uint64
	sinks    []Sink
	Attempts *AttemptTracker
	now      func() time.Time
}

func New(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	day := 24 * time.Hour
	open := func(name string, days int) *stream {
		return &stream{
			name: name,
			w: &lumberjack.Logger{
				Filename:  filepath.Join(cfg.Dir, name),
				MaxSize:   cfg.MaxSizeMB,
				MaxAge:    days,
				LocalTime: true,
			},
			retention: time.Duration(days) * day,
		}
	}
	return &Logger{
		dir:      cfg.Dir,
		txn:      open(TransactionStream, cfg.RetentionDays),
		audit:    open(AuditStream, cfg.AuditRetentionDays),
		security: open(SecurityStream, cfg.RetentionDays),
		Attempts: NewAttemptTracker(),
		now:      time.Now,
	}, nil
}

// AddSink registers a receiver for audit records.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// NewOperationID returns the id that ties the lines of one operation together.
func (l *Logger) NewOperationID() string {
	return utils.GenerateOperationID()
}

func (l *Logger) nextSeq() uint64 {
	return l.seq.Add(1)
}

func (l *Logger) write(s *stream, fields ...string) error {
	line := strings.Join(fields, " | ") + "\n"
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(s.w, line); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.name, err)
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(models.MoneyPlaces)
}

// Transaction appends one transaction-stream line for txn.
func (l *Logger) Transaction(opID, actor string, txn *models.Transaction) error {
	ts := txn.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	return l.write(l.txn,
		ts.Format(lineTimestamp),
		plain(opID),
		strconv.FormatUint(l.nextSeq(), 10),
		plain(txn.ID),
		field(actor),
		MaskCard(txn.CardNumber),
		field(txn.AccountID),
		string(txn.Type),
		money(txn.Amount),
		money(txn.BalanceBefore),
		money(txn.BalanceAfter),
		string(txn.Status),
		field(txn.Remarks),
	)
}

// Audit stamps rec with an id, sequence number and timestamp, appends it to
// the audit stream and hands it to every sink. Sink failures are logged and
// do not fail the call.
func (l *Logger) Audit(ctx context.Context, rec models.AuditRecord) (models.AuditRecord, error) {
	if rec.ID == "" {
		rec.ID = utils.GenerateID("AUD")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Sequence = l.nextSeq()
	rec.Before = field(rec.Before)
	rec.After = field(rec.After)
	rec.Detail = field(rec.Detail)
	rec.EntityID = field(rec.EntityID)

	err := l.write(l.audit,
		rec.Timestamp.Format(lineTimestamp),
		plain(rec.OperationID),
		strconv.FormatUint(rec.Sequence, 10),
		field(rec.Actor),
		field(rec.Action),
		field(rec.EntityType),
		rec.EntityID,
		rec.Before,
		rec.After,
		rec.Detail,
	)

	l.mu.Lock()
	sinks := append([]Sink(nil), l.sinks...)
	l.mu.Unlock()
	for _, s := range sinks {
		if serr := s.RecordAudit(ctx, rec); serr != nil {
			log.Printf("Failed to forward audit record %s: %v", rec.ID, serr)
		}
	}
	return rec, err
}

// SecurityEvent is one security-stream line. Resource is masked as a card
// number when it is all digits.
type SecurityEvent struct {
	Actor    string
	Event    string
	Severity Severity
	Outcome  string
	Resource string
	Reason   string
}

func (l *Logger) Security(ev SecurityEvent) error {
	resource := field(ev.Resource)
	if utils.IsDigits(ev.Resource) {
		resource = MaskCard(ev.Resource)
	}
	return l.write(l.security,
		l.now().Format(lineTimestamp),
		field(ev.Actor),
		field(ev.Event),
		string(ev.Severity),
		field(ev.Outcome),
		resource,
		field(ev.Reason),
	)
}

// AuthFailure counts a failed authentication against key and writes a
// security line: medium below maxAttempts, high from then on.
func (l *Logger) AuthFailure(actor, event, key, reason string, maxAttempts int) (Severity, error) {
	n := l.Attempts.Fail(key)
	severity := SeverityMedium
	if maxAttempts > 0 && n >= maxAttempts {
		severity = SeverityHigh
	}
	err := l.Security(SecurityEvent{
		Actor:    actor,
		Event:    event,
		Severity: severity,
		Outcome:  "denied",
		Resource: key,
		Reason:   fmt.Sprintf("%s (attempt %d today)", reason, n),
	})
	return severity, err
}

// AuthSuccess clears the failure count for key.
func (l *Logger) AuthSuccess(key string) {
	l.Attempts.Reset(key)
}

type rotator interface {
	Rotate() error
}

// Rotate forces every stream onto a fresh file.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, s := range []*stream{l.txn, l.audit, l.security} {
		if r, ok := s.w.(rotator); ok {
			if err := r.Rotate(); err != nil {
				errs = append(errs, fmt.Errorf("failed to rotate %s: %w", s.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Sweep deletes rotated stream files older than their stream's retention and
// returns how many it removed.
func (l *Logger) Sweep() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list log dir: %w", err)
	}
	now := l.now()
	removed := 0
	var errs []error
	for _, s := range []*stream{l.txn, l.audit, l.security} {
		if s.retention <= 0 {
			continue
		}
		ext := filepath.Ext(s.name)
		prefix := strings.TrimSuffix(s.name, ext) + "-"
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) <= s.retention {
				continue
			}
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Close flushes and closes the three streams.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, s := range []*stream{l.txn, l.audit, l.security} {
		if err := s.w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
