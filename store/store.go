// Package store persists Tiger-tree data for shared files in a bolt
// database: leaf blocks keyed by root hash, and per-path file records
// linking share paths to their hashes. The client itself never hashes;
// PutLeaves, PutFile and DeleteFile are the write surface for an external
// hashing tool to fill the database, and the share serves whatever it
// finds there.
package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"dcnet/protocol"
)

var (
	bucketLeaves = []byte("tth_leaves")
	bucketFiles  = []byte("tth_files")
)

const writeBatchSize = 64

// FileRecord links a share path to its hash state.
type FileRecord struct {
	Size    uint64
	LastMod int64
	Root    protocol.TTH
}

type writeOp struct {
	fn    func(tx *bolt.Tx) error
	flush chan struct{}
}

// Store wraps the database. Reads are synchronous; writes are queued to a
// single background worker that commits them in arrival order. A read
// issued immediately after a write may not observe it until Flush.
type Store struct {
	db    *bolt.DB
	queue chan writeOp
	wg    sync.WaitGroup
	log   *slog.Logger

	closeOnce sync.Once
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketLeaves, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	s := &Store{
		db:    db,
		queue: make(chan writeOp, 256),
		log:   slog.With("component", "store"),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Leaves returns the stored leaf block for a root hash, or nil when the
// hash is unknown.
func (s *Store) Leaves(root protocol.TTH) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketLeaves).Get(root[:]); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read leaves: %w", err)
	}
	return out, nil
}

// PutLeaves queues the leaf block of a root hash for storage.
func (s *Store) PutLeaves(root protocol.TTH, leaves []byte) {
	blob := append([]byte(nil), leaves...)
	key := root
	s.enqueue(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLeaves).Put(key[:], blob)
	})
}

// File returns the record for a share path.
func (s *Store) File(path string) (FileRecord, bool, error) {
	var rec FileRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get([]byte(path))
		if v == nil {
			return nil
		}
		r, err := decodeFileRecord(v)
		if err != nil {
			return err
		}
		rec, found = r, true
		return nil
	})
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("store: read file record: %w", err)
	}
	return rec, found, nil
}

// PutFile queues a file record for storage.
func (s *Store) PutFile(path string, rec FileRecord) {
	key := []byte(path)
	blob := encodeFileRecord(rec)
	s.enqueue(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).Put(key, blob)
	})
}

// DeleteFile queues removal of a file record.
func (s *Store) DeleteFile(path string) {
	key := []byte(path)
	s.enqueue(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete(key)
	})
}

// Flush blocks until every write queued before the call has committed.
func (s *Store) Flush() {
	done := make(chan struct{})
	s.queue <- writeOp{flush: done}
	<-done
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Flush()
		close(s.queue)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) enqueue(fn func(tx *bolt.Tx) error) {
	s.queue <- writeOp{fn: fn}
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for op := range s.queue {
		batch := []writeOp{op}
	drain:
		for len(batch) < writeBatchSize {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		s.commit(batch)
	}
}

func (s *Store) commit(batch []writeOp) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range batch {
			if op.fn == nil {
				continue
			}
			if err := op.fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("write batch failed", "error", err, "ops", len(batch))
	}
	for _, op := range batch {
		if op.flush != nil {
			close(op.flush)
		}
	}
}

func encodeFileRecord(rec FileRecord) []byte {
	buf := make([]byte, 16+protocol.TTHSize)
	binary.BigEndian.PutUint64(buf[0:], rec.Size)
	binary.BigEndian.PutUint64(buf[8:], uint64(rec.LastMod))
	copy(buf[16:], rec.Root[:])
	return buf
}

func decodeFileRecord(v []byte) (FileRecord, error) {
	if len(v) != 16+protocol.TTHSize {
		return FileRecord{}, fmt.Errorf("corrupt file record of %d bytes", len(v))
	}
	var rec FileRecord
	rec.Size = binary.BigEndian.Uint64(v[0:])
	rec.LastMod = int64(binary.BigEndian.Uint64(v[8:]))
	copy(rec.Root[:], v[16:])
	return rec, nil
}
