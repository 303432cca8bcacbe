// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package mergestore durably persists merge-request records keyed by
// commit SHA, on top of an embedded bbolt database. Every write transaction
// fsyncs before returning (bbolt's default), giving the crash-safety
// spec.md requires without a separate WAL or background flusher.
package mergestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/microsoft/mergebot/domain"
	"github.com/microsoft/mergebot/keyedmutex"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("merge_requests")

// Store is a durable SHA-keyed map of domain.MergeRequest records.
type Store struct {
	db    *bolt.DB
	locks *keyedmutex.Map
}

// Open opens (creating if necessary) the bbolt database at path and ensures
// the merge_requests bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening merge request store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing merge request store %q: %w", path, err)
	}
	return &Store{db: db, locks: keyedmutex.NewMap()}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes mr under key mr.SHA, replacing any existing record for the
// same SHA. Per invariant I1, callers are responsible for deleting any
// existing record under a different SHA for the same (owner, repo, number)
// before calling Put with a new SHA — see Replace.
func (s *Store) Put(mr domain.MergeRequest) error {
	data, err := json.Marshal(mr)
	if err != nil {
		return fmt.Errorf("marshalling merge request for %s: %w", mr.SHA, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(mr.SHA), data)
	})
}

// Get returns the record stored under sha, or ok=false if there is none.
func (s *Store) Get(sha string) (mr domain.MergeRequest, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(sha))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &mr)
	})
	return mr, ok, err
}

// Delete removes the record stored under sha, if any.
func (s *Store) Delete(sha string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(sha))
	})
}

// Scan returns every record currently in the store, for use at startup to
// resume any merge-request left in a non-terminal state.
func (s *Store) Scan() ([]domain.MergeRequest, error) {
	var all []domain.MergeRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(_, data []byte) error {
			var mr domain.MergeRequest
			if err := json.Unmarshal(data, &mr); err != nil {
				return err
			}
			all = append(all, mr)
			return nil
		})
	})
	return all, err
}

// Replace atomically (from the caller's perspective, while holding the
// per-PR mutex) moves a merge-request from oldSHA to mr.SHA: the old key is
// deleted and the new key inserted in the same bbolt transaction, so a
// concurrent Scan never observes both or neither. This is how the
// orchestrator enforces invariant I1 across a branch update.
func (s *Store) Replace(oldSHA string, mr domain.MergeRequest) error {
	data, err := json.Marshal(mr)
	if err != nil {
		return fmt.Errorf("marshalling merge request for %s: %w", mr.SHA, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if oldSHA != "" && oldSHA != mr.SHA {
			if err := b.Delete([]byte(oldSHA)); err != nil {
				return err
			}
		}
		return b.Put([]byte(mr.SHA), data)
	})
}

// Lock acquires the store's per-PR mutex for key. Put, Delete and Replace do
// not take it, and the orchestrator serializes its transitions with its own
// per-PR lock rather than this one.
func (s *Store) Lock(ctx context.Context, key domain.Key) (unlock func(), err error) {
	return s.locks.Lock(ctx, key.String())
}
