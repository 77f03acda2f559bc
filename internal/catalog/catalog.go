// Package catalog persists asset fingerprints in BadgerDB. The signature key
// is unique: a reservation either claims it or fails with ErrSignatureTaken.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/philipparndt/meshvault/pkg/fingerprint"
)

// Key prefixes for BadgerDB storage
const (
	signatureKeyPrefix = "sig:"
	assetKeyPrefix     = "asset:"
)

const (
	StatusReserved = "reserved"
	StatusComplete = "complete"

	reserveAttempts = 3
)

var (
	ErrSignatureTaken = errors.New("signature already registered")
	ErrNotFound       = errors.New("asset not found")
)

// Record is one catalog row
type Record struct {
	AssetID      string                    `json:"asset_id"`
	Signature    string                    `json:"signature"`
	ArtistID     string                    `json:"artist_id"`
	Name         string                    `json:"name,omitempty"`
	Vector       fingerprint.FeatureVector `json:"vector"`
	Status       string                    `json:"status"`
	WatermarkID  string                    `json:"watermark_id,omitempty"`
	ContainerKey string                    `json:"container_key,omitempty"`
	ThumbnailKey string                    `json:"thumbnail_key,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	CompletedAt  *time.Time                `json:"completed_at,omitempty"`
}

// Artifacts are recorded when a job completes
type Artifacts struct {
	WatermarkID  string
	ContainerKey string
	ThumbnailKey string
}

// Catalog is the BadgerDB-backed fingerprint table
type Catalog struct {
	db *badger.DB
}

// Open opens the store at path, or an in-memory store when inMemory is set.
// A nil logger silences badger.
func Open(path string, inMemory bool, log badger.Logger) (*Catalog, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = log

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// LookupSignature returns the asset holding signature, if any
func (c *Catalog) LookupSignature(ctx context.Context, signature string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var assetID string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(signatureKeyPrefix + signature))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		assetID = string(value)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup signature: %w", err)
	}
	return assetID, true, nil
}

// Candidates lists every stored vector, reserved rows included so that
// concurrent near-identical uploads still see each other
func (c *Catalog) Candidates(ctx context.Context) ([]fingerprint.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []fingerprint.Candidate
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(assetKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			candidates = append(candidates, fingerprint.Candidate{
				AssetID:        record.AssetID,
				Vector:         record.Vector,
				WatermarkToken: record.WatermarkID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return candidates, nil
}

// Reserve claims record.Signature for record.AssetID. An existing key or a
// conflicting concurrent commit that wins the key yields ErrSignatureTaken.
func (c *Catalog) Reserve(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record.Status = StatusReserved
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	sigKey := []byte(signatureKeyPrefix + record.Signature)
	assetKey := []byte(assetKeyPrefix + record.AssetID)

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err = c.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(sigKey)
			if err == nil {
				return ErrSignatureTaken
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(sigKey, []byte(record.AssetID)); err != nil {
				return fmt.Errorf("set signature: %w", err)
			}
			return txn.Set(assetKey, data)
		})
		// A conflict means another writer touched the key; retry to learn
		// whether it now holds the signature
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSignatureTaken), errors.Is(err, badger.ErrConflict):
		return ErrSignatureTaken
	default:
		return fmt.Errorf("reserve signature: %w", err)
	}
}

// Complete marks a reservation finished and records its artifacts
func (c *Catalog) Complete(ctx context.Context, assetID string, artifacts Artifacts) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		record, err := getRecord(txn, assetID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		record.Status = StatusComplete
		record.WatermarkID = artifacts.WatermarkID
		record.ContainerKey = artifacts.ContainerKey
		record.ThumbnailKey = artifacts.ThumbnailKey
		record.CompletedAt = &now

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return txn.Set([]byte(assetKeyPrefix+assetID), data)
	})
}

// Release drops a reservation left by an aborted job. Completed assets and
// unknown ids are left alone.
func (c *Catalog) Release(ctx context.Context, assetID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		record, err := getRecord(txn, assetID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if record.Status != StatusReserved {
			return nil
		}
		if err := txn.Delete([]byte(signatureKeyPrefix + record.Signature)); err != nil {
			return fmt.Errorf("delete signature: %w", err)
		}
		return txn.Delete([]byte(assetKeyPrefix + assetID))
	})
}

// Get returns the record for assetID
func (c *Catalog) Get(ctx context.Context, assetID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *Record
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = getRecord(txn, assetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func getRecord(txn *badger.Txn, assetID string) (*Record, error) {
	item, err := txn.Get([]byte(assetKeyPrefix + assetID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, assetID)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}

	var record Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	}); err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	return &record, nil
}
