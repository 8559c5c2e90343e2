// Package bolt is the single-file embedded store used when no Postgres
// database is configured.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"go.etcd.io/bbolt"
)

var (
	bucketSubscriptions = []byte("subscriptions")
	bucketTokens        = []byte("tokens")
	bucketBroadcasts    = []byte("broadcasts")
)

// Store implements the subscription, token and broadcast repositories.
// Subscriptions live in one nested bucket per feature, keyed by user id.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketSubscriptions, bucketTokens, bucketBroadcasts} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping fails once the database has been closed.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

type subscriptionRecord struct {
	Token     string          `json:"token"`
	Targets   []domain.Target `json:"targets"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Store) List(_ context.Context, feature domain.Feature) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions).Bucket([]byte(feature))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec subscriptionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode subscription %s: %w", k, err)
			}
			if len(rec.Targets) == 0 {
				return nil
			}
			subs = append(subs, &domain.Subscription{
				Feature:   feature,
				UserID:    string(k),
				Token:     rec.Token,
				Targets:   rec.Targets,
				UpdatedAt: rec.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) Add(_ context.Context, feature domain.Feature, userID, token string, target domain.Target) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketSubscriptions).CreateBucketIfNotExists([]byte(feature))
		if err != nil {
			return fmt.Errorf("create feature bucket: %w", err)
		}

		var rec subscriptionRecord
		if v := b.Get([]byte(userID)); v != nil {
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode subscription: %w", err)
			}
		}
		if slices.ContainsFunc(rec.Targets, target.Same) {
			return domain.ErrTargetAlreadySubscribed
		}
		rec.Targets = append(rec.Targets, target)
		if token != "" {
			rec.Token = token
		}
		rec.UpdatedAt = s.now().UTC()

		return putJSON(b, []byte(userID), rec)
	})
}

func (s *Store) Remove(_ context.Context, feature domain.Feature, userID string, target *domain.Target) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions).Bucket([]byte(feature))
		if b == nil {
			return domain.ErrSubscriptionNotFound
		}
		v := b.Get([]byte(userID))
		if v == nil {
			return domain.ErrSubscriptionNotFound
		}
		if target == nil {
			return b.Delete([]byte(userID))
		}

		var rec subscriptionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		kept := slices.DeleteFunc(slices.Clone(rec.Targets), target.Same)
		if len(kept) == len(rec.Targets) {
			return domain.ErrSubscriptionNotFound
		}
		if len(kept) == 0 {
			return b.Delete([]byte(userID))
		}
		rec.Targets = kept
		rec.UpdatedAt = s.now().UTC()
		return putJSON(b, []byte(userID), rec)
	})
}

func (s *Store) GetActiveToken(_ context.Context, userID string) (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		token = string(tx.Bucket(bucketTokens).Get([]byte(userID)))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("get active token: %w", err)
	}
	return token, nil
}

func (s *Store) SetActiveToken(_ context.Context, userID, token string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Put([]byte(userID), []byte(token))
	})
	if err != nil {
		return fmt.Errorf("set active token: %w", err)
	}
	return nil
}

// Save assigns rec the next sequence number as its ID.
func (s *Store) Save(_ context.Context, rec *domain.BroadcastRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBroadcasts)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = int64(seq)
		return putJSON(b, itob(seq), rec)
	})
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]*domain.BroadcastRecord, error) {
	var out []*domain.BroadcastRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBroadcasts).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec domain.BroadcastRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode broadcast %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	return out, nil
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// itob encodes big-endian so keys sort in insertion order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
