// Package bolt provides a bbolt-backed implementation of corequeue's
// DurableMap interface: fsync-on-write get/set/delete/keys/clear over a
// single bucket, used as the durable queue's on-disk map and the queue
// processor's in-flight cache (§6 "Durable map interface").
package bolt

import (
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// Map wraps a single bbolt bucket as a corequeue.DurableMap.
type Map struct {
	db     *bbolt.DB
	bucket []byte
}

// Open opens or creates a bbolt database at path and ensures bucket
// exists, returning a Map scoped to that bucket.
func Open(path, bucket string) (*Map, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	m := &Map{db: db, bucket: []byte(bucket)}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(m.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return m, nil
}

// Close closes the underlying database.
func (m *Map) Close() error { return m.db.Close() }

// Get returns the raw bytes stored under key and whether it was present.
// bbolt transactions are durable once committed, so a successful Get
// always reflects the last fsynced Set.
func (m *Map) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(m.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found: %s", m.bucket)
		}
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// Set writes value under key; bbolt's Update fsyncs before returning,
// satisfying the fsync-on-write invariant.
func (m *Map) Set(key string, value []byte) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(m.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found: %s", m.bucket)
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes key, a no-op if absent.
func (m *Map) Delete(key string) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(m.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found: %s", m.bucket)
		}
		return b.Delete([]byte(key))
	})
}

// Keys returns every key currently stored, in bbolt's byte-lexical
// iteration order.
func (m *Map) Keys() ([]string, error) {
	var keys []string
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(m.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found: %s", m.bucket)
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Clear removes every key from the bucket.
func (m *Map) Clear() error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(m.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(m.bucket)
		return err
	})
}
