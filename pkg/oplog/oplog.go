package oplog

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/connhealth/probe/pkg/logging"
)

// Direction records which side initiated an op exchange.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Entry is one row of the op log.
type Entry struct {
	OpID      string
	PeerID    string
	Direction Direction
	Kind      string
	Entity    string
	Acked     bool
	CreatedAt time.Time
}

// Log persists op exchange outcomes to a local SQLite file. It is purely
// observational: every failure here is logged and swallowed upstream so
// the op log can never interfere with connection handling.
type Log struct {
	db     *sql.DB
	logger *logging.ColoredLogger
}

const schema = `
CREATE TABLE IF NOT EXISTS ops (
	op_id      TEXT PRIMARY KEY,
	peer_id    TEXT NOT NULL,
	direction  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	entity     TEXT NOT NULL,
	acked      INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ops_created_at ON ops(created_at);
`

// Open creates or opens the op log database under dataDir.
func Open(dataDir string, logger *logging.ColoredLogger) (*Log, error) {
	path := filepath.Join(dataDir, "ops.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open op log: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize op log schema: %w", err)
	}

	logger.ComponentInfo(logging.ComponentOpLog, "Op log ready")
	return &Log{db: db, logger: logger}, nil
}

// Append records a newly submitted or received op.
func (l *Log) Append(e Entry) error {
	_, err := l.db.Exec(
		`INSERT OR IGNORE INTO ops (op_id, peer_id, direction, kind, entity, acked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OpID, e.PeerID, string(e.Direction), e.Kind, e.Entity, boolToInt(e.Acked), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append op: %w", err)
	}
	return nil
}

// MarkAcked flips the acked flag for an op once its acknowledgment lands.
func (l *Log) MarkAcked(opID string, ok bool) error {
	_, err := l.db.Exec(`UPDATE ops SET acked = ? WHERE op_id = ?`, boolToInt(ok), opID)
	if err != nil {
		return fmt.Errorf("failed to mark op acked: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT op_id, peer_id, direction, kind, entity, acked, created_at
		 FROM ops ORDER BY created_at DESC, op_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query op log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var dir string
		var acked int
		var createdMs int64
		if err := rows.Scan(&e.OpID, &e.PeerID, &dir, &e.Kind, &e.Entity, &acked, &createdMs); err != nil {
			return nil, err
		}
		e.Direction = Direction(dir)
		e.Acked = acked != 0
		e.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
