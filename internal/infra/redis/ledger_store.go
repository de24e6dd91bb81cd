package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/workflow-monitor/internal/ledger"
)

const (
	fieldRevision = "revision"
	fieldBody     = "body"
)

// LedgerStore keeps the ledger document in a Redis hash and commits it with
// WATCH/MULTI.
type LedgerStore struct {
	rdb *redis.Client
	key string
}

// NewLedgerStore creates a Redis ledger store under key.
func NewLedgerStore(client *Client, key string) *LedgerStore {
	if key == "" {
		key = DefaultKey
	}
	return &LedgerStore{rdb: client.rdb, key: key}
}

// Load reads the ledger hash. A missing key is an empty ledger.
func (s *LedgerStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	return load(ctx, s.rdb, s.key)
}

// Save writes doc if the hash is still at expected. A concurrent write to
// the key aborts the transaction.
func (s *LedgerStore) Save(ctx context.Context, doc *ledger.Document, expected ledger.Revision) (ledger.Revision, error) {
	var next int64
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		snap, err := load(ctx, tx, s.key)
		if err != nil {
			return err
		}
		if snap.Revision != expected {
			return ledger.ErrConflict
		}

		next = snap.Doc.Revision + 1
		out := doc.Clone()
		out.Revision = next
		body, err := out.Encode()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, fieldRevision, next, fieldBody, string(body))
			return nil
		})
		return err
	}, s.key)

	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, ledger.ErrConflict) {
		return "", ledger.ErrConflict
	}
	if err != nil {
		return "", fmt.Errorf("failed to save ledger hash: %w", err)
	}
	return ledger.Revision(strconv.FormatInt(next, 10)), nil
}

func load(ctx context.Context, c redis.Cmdable, key string) (ledger.Snapshot, error) {
	body, err := c.HGet(ctx, key, fieldBody).Result()
	if err == redis.Nil {
		return ledger.Snapshot{Doc: ledger.NewDocument()}, nil
	}
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("failed to load ledger hash: %w", err)
	}

	doc, err := ledger.Decode([]byte(body))
	if err != nil {
		return ledger.Snapshot{}, err
	}
	var rev ledger.Revision
	if doc.Revision > 0 {
		rev = ledger.Revision(strconv.FormatInt(doc.Revision, 10))
	}
	return ledger.Snapshot{Doc: doc, Revision: rev}, nil
}
