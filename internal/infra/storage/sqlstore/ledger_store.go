package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/workflow-monitor/internal/ledger"
)

// DefaultName is the ledger row used when none is configured.
const DefaultName = "default"

// LedgerStore keeps the ledger document in a single versioned row.
type LedgerStore struct {
	db   *sqlx.DB
	name string
}

// NewLedgerStore creates a SQL ledger store for the named ledger.
func NewLedgerStore(db *sqlx.DB, name string) *LedgerStore {
	if name == "" {
		name = DefaultName
	}
	return &LedgerStore{db: db, name: name}
}

// Load reads the ledger row. A missing row is an empty ledger.
func (s *LedgerStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	query := s.db.Rebind(`
		SELECT revision, body
		FROM ledger_documents
		WHERE name = ?
	`)

	var dest struct {
		Revision int64  `db:"revision"`
		Body     string `db:"body"`
	}
	err := s.db.GetContext(ctx, &dest, query, s.name)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Snapshot{Doc: ledger.NewDocument()}, nil
	}
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("failed to load ledger row: %w", err)
	}

	doc, err := ledger.Decode([]byte(dest.Body))
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return ledger.Snapshot{
		Doc:      doc,
		Revision: ledger.Revision(strconv.FormatInt(dest.Revision, 10)),
	}, nil
}

// Save writes doc if the row is still at expected.
func (s *LedgerStore) Save(ctx context.Context, doc *ledger.Document, expected ledger.Revision) (ledger.Revision, error) {
	var current int64
	if expected != "" {
		n, err := strconv.ParseInt(string(expected), 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid ledger revision %q: %w", expected, err)
		}
		current = n
	}
	next := current + 1

	out := doc.Clone()
	out.Revision = next
	body, err := out.Encode()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	var res sql.Result
	if expected == "" {
		query := s.db.Rebind(`
			INSERT INTO ledger_documents (name, revision, body, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (name) DO NOTHING
		`)
		res, err = s.db.ExecContext(ctx, query, s.name, next, string(body), now)
	} else {
		query := s.db.Rebind(`
			UPDATE ledger_documents
			SET revision = ?, body = ?, updated_at = ?
			WHERE name = ? AND revision = ?
		`)
		res, err = s.db.ExecContext(ctx, query, next, string(body), now, s.name, current)
	}
	if err != nil {
		return "", fmt.Errorf("failed to save ledger row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return "", ledger.ErrConflict
	}
	return ledger.Revision(strconv.FormatInt(next, 10)), nil
}
