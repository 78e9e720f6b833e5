package persist

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/schedcall/intake-engine/internal/domain"
)

// SQLiteSink stores redacted transcripts in a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

var _ domain.TranscriptSink = (*SQLiteSink)(nil)

// NewSQLiteSink opens (or creates) the database at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS transcript_turns (
		call_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		phase TEXT NOT NULL,
		provider TEXT,
		model TEXT,
		reason TEXT,
		complexity REAL,
		confidence REAL,
		redacted_input TEXT NOT NULL,
		redacted_reply TEXT NOT NULL,
		at TIMESTAMP NOT NULL,
		PRIMARY KEY (call_id, turn)
	)`)
	return err
}

func (s *SQLiteSink) Persist(ctx context.Context, callID string, turn domain.TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO transcript_turns
		(call_id, turn, phase, provider, model, reason, complexity, confidence, redacted_input, redacted_reply, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		callID, turn.Turn, string(turn.Phase),
		turn.Decision.Provider, turn.Decision.Model, string(turn.Decision.Reason),
		turn.Decision.Complexity, turn.Decision.Confidence,
		turn.RedactedInput, turn.RedactedReply, turn.At,
	)
	if err != nil {
		return fmt.Errorf("failed to store turn: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
