package credentials

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/instantiate/internal/provider"
)

var bucketCredentials = []byte("credentials")

// BoltBackend persists encrypted blobs in a bbolt file. Only ciphertext
// ever reaches disk.
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the credential database at path.
func OpenBolt(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCredentials)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init credential db: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Put stores the blob for a provider.
func (b *BoltBackend) Put(p provider.Kind, blob Blob) error {
	value, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).Put([]byte(p), value)
	})
}

// Delete removes the blob for a provider.
func (b *BoltBackend) Delete(p provider.Kind) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(p))
	})
}

// Load returns every stored blob.
func (b *BoltBackend) Load() (map[provider.Kind]Blob, error) {
	blobs := make(map[provider.Kind]Blob)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(k, v []byte) error {
			var blob Blob
			if err := json.Unmarshal(v, &blob); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			blobs[provider.Kind(k)] = blob
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return blobs, nil
}

// Close closes the database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
