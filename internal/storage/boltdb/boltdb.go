// Package boltdb opens the embedded store used by single-node deployments
// and package tests. All data lives in one file.
package boltdb

import (
	"encoding/binary"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"
)

// Top-level buckets.
const (
	BucketCharges         = "charges"
	BucketChargeHistory   = "charge_history"
	BucketLedgerEntries   = "ledger_entries"
	BucketVendorAccounts  = "vendor_accounts"
	BucketOutbox          = "event_outbox"
	BucketProcessedEvents = "processed_events"
	BucketDeadLetters     = "dead_letter_events"
)

var buckets = []string{
	BucketCharges,
	BucketChargeHistory,
	BucketLedgerEntries,
	BucketVendorAccounts,
	BucketOutbox,
	BucketProcessedEvents,
	BucketDeadLetters,
}

// ErrMissingBucket is returned when a required bucket was not created.
var ErrMissingBucket = errors.New("boltdb: missing bucket")

// Open opens (or creates) the database at path and ensures every bucket
// exists.
func Open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Bucket returns a top-level bucket or ErrMissingBucket.
func Bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, ErrMissingBucket
	}
	return b, nil
}

// Itob encodes a sequence as a big-endian key so cursor order matches
// numeric order.
func Itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
