package state

import (
	"errors"
	"sort"

	"nftescrow/storage"
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Overlay journals writes on top of a committed database. Reads observe the
// journal first. Nothing reaches the database until Commit, which applies the
// whole journal as one storage batch.
type Overlay struct {
	base    storage.Database
	pending map[string]pendingWrite
}

// NewOverlay opens an empty journal over base.
func NewOverlay(base storage.Database) *Overlay {
	return &Overlay{base: base, pending: make(map[string]pendingWrite)}
}

// Get returns the value at key, or storage.ErrNotFound.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if w, ok := o.pending[string(key)]; ok {
		if w.deleted {
			return nil, storage.ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return o.base.Get(key)
}

// Has reports whether key holds a value in the journaled view.
func (o *Overlay) Has(key []byte) (bool, error) {
	_, err := o.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (o *Overlay) Put(key, value []byte) error {
	o.pending[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.pending[string(key)] = pendingWrite{deleted: true}
	return nil
}

// Dirty returns the number of journaled keys.
func (o *Overlay) Dirty() int { return len(o.pending) }

// Commit writes the journal atomically and resets it. Keys are applied in
// sorted order so identical journals produce identical batches.
func (o *Overlay) Commit() error {
	if len(o.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := o.base.NewBatch()
	for _, k := range keys {
		w := o.pending[k]
		if w.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every journaled write.
func (o *Overlay) Discard() {
	o.pending = make(map[string]pendingWrite)
}
