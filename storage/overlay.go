package storage

import (
	"bytes"
	"context"
	"sync"
)

// Overlay stages writes in memory on top of a base storage.
//
// Reads see staged values first. Nothing reaches the base storage until
// Flush is called, so discarding an overlay leaves the base untouched.
type Overlay struct {
	base Storage

	mu      sync.RWMutex
	keys    []string
	pending map[string][]byte
}

// NewOverlay returns an overlay over the given base storage.
func NewOverlay(base Storage) *Overlay {
	return &Overlay{
		base:    base,
		pending: make(map[string][]byte),
	}
}

func (o *Overlay) Has(ctx context.Context, key string) (bool, error) {
	o.mu.RLock()
	_, ok := o.pending[key]
	o.mu.RUnlock()

	if ok {
		return true, nil
	}
	return o.base.Has(ctx, key)
}

func (o *Overlay) Get(ctx context.Context, key string) ([]byte, error) {
	o.mu.RLock()
	content, ok := o.pending[key]
	o.mu.RUnlock()

	if ok {
		return bytes.Clone(content), nil
	}
	return o.base.Get(ctx, key)
}

func (o *Overlay) Put(ctx context.Context, key string, content []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pending[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.pending[key] = bytes.Clone(content)
	return nil
}

// Len returns the number of staged entries.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return len(o.keys)
}

// Flush writes all staged entries followed by the given entries to the base
// storage in one batch and clears the overlay.
func (o *Overlay) Flush(ctx context.Context, last ...Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := make([]Entry, 0, len(o.keys)+len(last))
	for _, k := range o.keys {
		entries = append(entries, Entry{Key: k, Value: o.pending[k]})
	}
	entries = append(entries, last...)

	if err := PutMany(ctx, o.base, entries); err != nil {
		return err
	}
	o.reset()
	return nil
}

// Discard drops all staged entries.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.reset()
}

func (o *Overlay) reset() {
	o.keys = nil
	o.pending = make(map[string][]byte)
}
