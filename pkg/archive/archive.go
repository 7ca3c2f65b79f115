// Package archive stores timestamped brain snapshots in BadgerDB.
//
// The brain file on disk is the working copy; the archive is history. Every
// Put keeps the full encoded brain under a (name, timestamp) key, so a
// brain that learned itself into a corner can be rolled back to any
// archived state. Snapshots are plain brain-file bytes, the same format
// package brainfmt writes.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Errors for archive operations.
var (
	ErrNoSnapshot = errors.New("no snapshot found")
	ErrBadName    = errors.New("snapshot name must not be empty or contain NUL")
)

const keyPrefix = "snap\x00"

// Snapshot describes one archived brain.
type Snapshot struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Size      int       `json:"size"`
}

// Store is a BadgerDB-backed snapshot archive. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) an archive in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an archive that lives only in RAM, for tests.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// key layout: "snap\x00" + name + "\x00" + big-endian unix nanos.
// Big-endian nanos sort chronologically, so iteration order is time order.
func snapshotKey(name string, ts time.Time) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(name)+1+8)
	key = append(key, keyPrefix...)
	key = append(key, name...)
	key = append(key, 0)
	var nanos [8]byte
	binary.BigEndian.PutUint64(nanos[:], uint64(ts.UnixNano()))
	return append(key, nanos[:]...)
}

func namePrefix(name string) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(name)+1)
	key = append(key, keyPrefix...)
	key = append(key, name...)
	return append(key, 0)
}

func parseKey(key []byte) (string, time.Time, bool) {
	rest := key[len(keyPrefix):]
	sep := len(rest) - 9 // NUL plus 8 timestamp bytes
	if sep < 0 || rest[sep] != 0 {
		return "", time.Time{}, false
	}
	nanos := binary.BigEndian.Uint64(rest[sep+1:])
	return string(rest[:sep]), time.Unix(0, int64(nanos)), true
}

// Put archives data under name at the current time.
func (s *Store) Put(name string, data []byte) (Snapshot, error) {
	return s.PutAt(name, data, time.Now())
}

// PutAt archives data under name at an explicit timestamp.
func (s *Store) PutAt(name string, data []byte, ts time.Time) (Snapshot, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return Snapshot{}, ErrBadName
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(name, ts), data)
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("archive snapshot: %w", err)
	}
	return Snapshot{Name: name, Timestamp: ts, Size: len(data)}, nil
}

// Latest returns the newest snapshot for name.
func (s *Store) Latest(name string) ([]byte, Snapshot, error) {
	var (
		data []byte
		meta Snapshot
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = namePrefix(name)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past every timestamp for this name.
		seek := append(namePrefix(name), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if !it.Valid() {
			return ErrNoSnapshot
		}
		item := it.Item()
		_, ts, ok := parseKey(item.KeyCopy(nil))
		if !ok {
			return ErrNoSnapshot
		}
		var err error
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		meta = Snapshot{Name: name, Timestamp: ts, Size: len(data)}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return nil, Snapshot{}, ErrNoSnapshot
		}
		return nil, Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return data, meta, nil
}

// List returns all snapshots for name, oldest first.
func (s *Store) List(name string) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = namePrefix(name)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(namePrefix(name)); it.Valid(); it.Next() {
			item := it.Item()
			_, ts, ok := parseKey(item.KeyCopy(nil))
			if !ok {
				continue
			}
			snaps = append(snaps, Snapshot{
				Name:      name,
				Timestamp: ts,
				Size:      int(item.ValueSize()),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// Prune deletes all but the newest keep snapshots for name and returns how
// many were removed.
func (s *Store) Prune(name string, keep int) (int, error) {
	snaps, err := s.List(name)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(snaps) <= keep {
		return 0, nil
	}
	doomed := snaps[:len(snaps)-keep]
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, snap := range doomed {
			if err := txn.Delete(snapshotKey(name, snap.Timestamp)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return len(doomed), nil
}
