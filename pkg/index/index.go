package index

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketRecords = []byte("records")

// ErrStop can be returned from a Scan callback to end the scan early without
// reporting an error to the caller.
var ErrStop = errors.New("stop scan")

// Index is the persistent key→record-string map backed by BoltDB. Values are
// opaque to this package; the record codec lives in pkg/types.
type Index struct {
	db *bolt.DB
}

// Open opens (or creates) the index database inside dataDir
func Open(dataDir string) (*Index, error) {
	dbPath := filepath.Join(dataDir, "keva.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketRecords, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

// Close closes the database
func (i *Index) Close() error {
	return i.db.Close()
}

// Get returns the stored value for key, and whether the key exists
func (i *Index) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := i.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(key))
		if data != nil {
			value = string(data)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get key: %w", err)
	}
	return value, found, nil
}

// Put stores value under key, overwriting any previous value
func (i *Index) Put(key, value string) error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (i *Index) Delete(key string) error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Scan walks all keys with the given prefix in ascending key order, calling
// fn for each. Returning ErrStop from fn ends the scan cleanly.
func (i *Index) Scan(prefix string, fn func(key, value string) error) error {
	err := i.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), string(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

// Count returns the number of keys in the index
func (i *Index) Count() (int, error) {
	var n int
	err := i.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return n, nil
}

// Reset drops every record. Used by rebuild before re-scanning the volumes.
func (i *Index) Reset() error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketRecords)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}
	return nil
}
