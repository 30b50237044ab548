// Package bolt archives discarded rewind Frames into a bbolt database, one
// bucket per ArchiveReason, in the order they were archived
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kode4food/rewind"
)

type (
	// Archiver is a rewind.Archiver backed by a bbolt file
	Archiver struct {
		db     *bbolt.DB
		mu     sync.RWMutex
		closed bool
	}

	// Record is an archived Frame with the sequence it was stored under
	Record struct {
		Frame    *rewind.Frame
		Sequence uint64
	}
)

const (
	DefaultFileMode    os.FileMode = 0o600
	DefaultOpenTimeout             = time.Second
)

// Open opens or creates the bbolt database at path
func Open(path string) (*Archiver, error) {
	db, err := bbolt.Open(path, DefaultFileMode, &bbolt.Options{
		Timeout: DefaultOpenTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Archiver{db: db}, nil
}

// Archive appends the batch's Frames to the bucket named by its reason,
// atomically
func (a *Archiver) Archive(
	ctx context.Context, batch *rewind.ArchiveBatch,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return rewind.ErrArchiveClosed
	}

	return a.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(batch.Reason))
		if err != nil {
			return err
		}
		for _, f := range batch.Frames {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(sequenceKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Frames returns every Frame archived for the reason, in archive order
func (a *Archiver) Frames(
	ctx context.Context, reason rewind.ArchiveReason,
) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, rewind.ErrArchiveClosed
	}

	var res []*Record
	err := a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(reason))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			f := &rewind.Frame{}
			if err := json.Unmarshal(v, f); err != nil {
				return err
			}
			res = append(res, &Record{
				Frame:    f,
				Sequence: binary.BigEndian.Uint64(k),
			})
			return nil
		})
	})
	return res, err
}

// Close releases the database file. Further calls fail with
// rewind.ErrArchiveClosed
func (a *Archiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
