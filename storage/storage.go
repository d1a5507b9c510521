// Package storage defines the key value block storage used by the record store.
package storage

import (
	"context"
	"errors"

	"github.com/ipld/go-ipld-prime/storage"
)

var ErrNotFound = errors.New("key not found")

type Storage interface {
	storage.ReadableStorage
	storage.WritableStorage
}

// Entry is a single key value pair written by a Batcher.
type Entry struct {
	Key   string
	Value []byte
}

// Batcher is implemented by storage that can write several entries at once.
//
// Entries are written in order. Readers observe either none of a batch or all
// of it, except that an engine may split a batch that is too large for one
// transaction; the last entry is then always written in the final part.
type Batcher interface {
	PutMany(ctx context.Context, entries []Entry) error
}

// PutMany writes all entries to the given storage, atomically when it
// implements Batcher.
func PutMany(ctx context.Context, store Storage, entries []Entry) error {
	if b, ok := store.(Batcher); ok {
		return b.PutMany(ctx, entries)
	}
	for _, e := range entries {
		if err := store.Put(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}
