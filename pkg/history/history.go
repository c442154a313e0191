// Package history keeps a ledger of pipeline runs in BadgerDB.
//
// Each run is one key, run/<start unix nanos>/<id>, so a reverse prefix scan
// yields the newest runs first. Values are gob-encoded Records.
package history

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var runPrefix = []byte("run/")

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("history: store is closed")

// Record is one pipeline run.
type Record struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	Platform   string
	Devices    int
	DeviceType string
	EntryPoint string
	// SourceFingerprint is the BLAKE2b-256 digest of the kernel source.
	SourceFingerprint string
	N                 int

	// FinalState is the pipeline state the run ended in.
	FinalState string
	// ErrorKind and Code are empty/zero for successful runs.
	ErrorKind string
	Code      int32
	Error     string
	ExitCode  int

	Output []float32
}

// Succeeded reports whether the run completed without error.
func (r *Record) Succeeded() bool {
	return r.Error == ""
}

// Store is a run ledger. Append and List may be called concurrently; Close
// must not race with them.
type Store struct {
	db *badger.DB
}

// Open opens or creates a ledger in dir.
func Open(dir string) (*Store, error) {
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens a ledger that is discarded on Close.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores rec, assigning an ID when it has none, and returns the ID.
func (s *Store) Append(rec *Record) (string, error) {
	if s.db == nil {
		return "", ErrClosed
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}
	key := recordKey(rec)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("storing run %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) List(limit int) ([]*Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = runPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), runPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(runPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return out, nil
}

// Close flushes and closes the ledger. Calling it again is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func recordKey(rec *Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, rec.StartedAt.UnixNano(), rec.ID))
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encoding run: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding run: %w", err)
	}
	return &rec, nil
}
