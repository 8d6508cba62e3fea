// Package calllog persists the derived call-history log. Rows are inserted
// when a call starts ringing (inbound) or is answered (outbound) and updated
// as the call progresses; the exchange's own CDR remains the authoritative
// record, this log only backs the service's history views.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/snarg/ucmwatch/internal/metrics"
)

const timeLayout = "2006-01-02 15:04:05"

const schema = `CREATE TABLE IF NOT EXISTS call_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp       TEXT NOT NULL,
	direction       TEXT NOT NULL,
	external_number TEXT NOT NULL,
	internal_ext    TEXT DEFAULT '',
	internal_name   TEXT DEFAULT '',
	answered        INTEGER DEFAULT 0,
	duration        INTEGER DEFAULT 0,
	linkedid        TEXT DEFAULT ''
)`

// Store owns the SQLite call log. Write operations are driven by the
// correlator and never return errors to it: a failed write is logged and the
// in-memory call tracking continues unaffected. The query side serves the
// history endpoint.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	// Per-call bridge time, kept until the call ends so the duration can be
	// computed at hangup. Empty string means ringing or never answered.
	mu   sync.Mutex
	meta map[string]string

	now func() time.Time
}

// Open creates or opens the call log database and ensures the schema exists.
// SQLite wants a single writer connection, and the monitor is the only writer.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping call log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_log table: %w", err)
	}

	log.Info().Str("path", path).Msg("call log opened")
	return &Store{
		db:   db,
		log:  log.With().Str("component", "calllog").Logger(),
		meta: make(map[string]string),
		now:  time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertInboundRing records a new inbound call at first ring. The row starts
// unanswered with zero duration.
func (s *Store) InsertInboundRing(linkedid, externalNumber string) {
	ts := s.now().Format(timeLayout)
	_, err := s.db.Exec(
		`INSERT INTO call_log (timestamp, direction, external_number, linkedid) VALUES (?, 'inbound', ?, ?)`,
		ts, externalNumber, linkedid,
	)
	if err != nil {
		metrics.CallLogErrorsTotal.Inc()
		s.log.Error().Err(err).Str("linkedid", linkedid).Msg("insert inbound ring failed")
		return
	}
	s.mu.Lock()
	s.meta[linkedid] = ""
	s.mu.Unlock()
	s.log.Info().Str("from", externalNumber).Str("linkedid", linkedid).Msg("inbound call logged")
}

// MarkInboundAnswered fills in the answering extension on the pending row and
// remembers the bridge time for the duration computed at hangup.
func (s *Store) MarkInboundAnswered(linkedid, internalExt, internalName, bridgeTime string) {
	_, err := s.db.Exec(
		`UPDATE call_log SET answered = 1, internal_ext = ?, internal_name = ? WHERE linkedid = ?`,
		internalExt, internalName, linkedid,
	)
	if err != nil {
		metrics.CallLogErrorsTotal.Inc()
		s.log.Error().Err(err).Str("linkedid", linkedid).Msg("mark answered failed")
		return
	}
	s.mu.Lock()
	if _, ok := s.meta[linkedid]; ok {
		s.meta[linkedid] = bridgeTime
	}
	s.mu.Unlock()
	s.log.Info().Str("extension", internalExt).Str("linkedid", linkedid).Msg("inbound call answered")
}

// InsertOutbound records an answered outbound call. Unanswered outbound
// attempts never reach the log: the exchange only bridges on answer.
func (s *Store) InsertOutbound(linkedid, timestamp, externalNumber, internalExt, internalName string) {
	_, err := s.db.Exec(
		`INSERT INTO call_log (timestamp, direction, external_number, internal_ext, internal_name, answered, linkedid)
		 VALUES (?, 'outbound', ?, ?, ?, 1, ?)`,
		timestamp, externalNumber, internalExt, internalName, linkedid,
	)
	if err != nil {
		metrics.CallLogErrorsTotal.Inc()
		s.log.Error().Err(err).Str("linkedid", linkedid).Msg("insert outbound failed")
		return
	}
	s.mu.Lock()
	s.meta[linkedid] = timestamp
	s.mu.Unlock()
	s.log.Info().Str("extension", internalExt).Str("to", externalNumber).Str("linkedid", linkedid).Msg("outbound call logged")
}

// Finalize computes and stores the call duration once the last channel is
// gone, then drops the per-call metadata. Unanswered calls keep duration 0.
func (s *Store) Finalize(linkedid string) {
	s.mu.Lock()
	bridgeTime, ok := s.meta[linkedid]
	delete(s.meta, linkedid)
	s.mu.Unlock()
	if !ok || bridgeTime == "" {
		return
	}

	bt, err := time.ParseInLocation(timeLayout, bridgeTime, time.Local)
	if err != nil {
		s.log.Warn().Str("bridge_time", bridgeTime).Str("linkedid", linkedid).Msg("unparseable bridge time")
		return
	}
	duration := int(s.now().Sub(bt).Seconds())
	if duration < 0 {
		duration = 0
	}

	if _, err := s.db.Exec(`UPDATE call_log SET duration = ? WHERE linkedid = ?`, duration, linkedid); err != nil {
		metrics.CallLogErrorsTotal.Inc()
		s.log.Error().Err(err).Str("linkedid", linkedid).Msg("finalize duration failed")
		return
	}
	s.log.Info().Int("duration", duration).Str("linkedid", linkedid).Msg("call duration recorded")
}

// HasPending reports whether a row for the correlation id is awaiting hangup.
func (s *Store) HasPending(linkedid string) bool {
	s.mu.Lock()
	_, ok := s.meta[linkedid]
	s.mu.Unlock()
	return ok
}

// Reset drops all pending metadata. Called on session loss: calls in flight
// at that moment keep whatever the log already says (answered rows stay at
// duration 0).
func (s *Store) Reset() {
	s.mu.Lock()
	s.meta = make(map[string]string)
	s.mu.Unlock()
}

// ── query side ───────────────────────────────────────────────────────

// Entry is one call-history row as served by the API.
type Entry struct {
	ID             int64  `json:"id"`
	Timestamp      string `json:"timestamp"`
	Direction      string `json:"direction"`
	ExternalNumber string `json:"external_number"`
	InternalExt    string `json:"internal_ext"`
	InternalName   string `json:"internal_name"`
	Answered       bool   `json:"answered"`
	Duration       int    `json:"duration"`
	LinkedID       string `json:"linkedid"`
}

// Filter narrows a history query. Zero values mean "no constraint".
type Filter struct {
	Direction string // "inbound" or "outbound"
	Number    string // substring of external_number
	Extension string // substring of internal_ext or internal_name
	DateFrom  string // "YYYY-MM-DD"
	DateTo    string // "YYYY-MM-DD"
	Limit     int
	Offset    int
}

// List returns matching entries newest-first plus the total match count.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	var conds []string
	var args []any

	if f.Direction == "inbound" || f.Direction == "outbound" {
		conds = append(conds, "direction = ?")
		args = append(args, f.Direction)
	}
	if f.Number != "" {
		conds = append(conds, "external_number LIKE ?")
		args = append(args, "%"+f.Number+"%")
	}
	if f.Extension != "" {
		conds = append(conds, "(internal_ext LIKE ? OR internal_name LIKE ?)")
		args = append(args, "%"+f.Extension+"%", "%"+f.Extension+"%")
	}
	if f.DateFrom != "" {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.DateFrom+" 00:00:00")
	}
	if f.DateTo != "" {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.DateTo+" 23:59:59")
	}

	where := "1=1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM call_log WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count call log: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, timestamp, direction, external_number, internal_ext, internal_name, answered, duration, linkedid
		FROM call_log WHERE ` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query call log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var answered int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Direction, &e.ExternalNumber,
			&e.InternalExt, &e.InternalName, &answered, &e.Duration, &e.LinkedID); err != nil {
			return nil, 0, fmt.Errorf("scan call log row: %w", err)
		}
		e.Answered = answered != 0
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// HealthCheck verifies the database connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
