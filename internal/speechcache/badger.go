package speechcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrWong99/signglove/pkg/audio"
)

var keyPrefix = []byte("speech/")

// BadgerStore keeps clips as WAV blobs in a badger database.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// BadgerOption configures [OpenBadger].
type BadgerOption func(*badger.Options)

// InMemory keeps the database in memory only. Intended for tests.
func InMemory() BadgerOption {
	return func(o *badger.Options) {
		*o = o.WithInMemory(true).WithDir("").WithValueDir("")
	}
}

// OpenBadger opens or creates the database at dir.
func OpenBadger(dir string, opts ...BadgerOption) (*BadgerStore, error) {
	o := badger.DefaultOptions(dir).WithLogger(nil)
	for _, fn := range opts {
		fn(&o)
	}
	db, err := badger.Open(o)
	if err != nil {
		return nil, fmt.Errorf("speechcache: open badger %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(text string) []byte {
	return append(append([]byte{}, keyPrefix...), Key(text)...)
}

// Lookup implements [Store].
func (s *BadgerStore) Lookup(_ context.Context, text string) (audio.Clip, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(text))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return audio.Clip{}, ErrNotFound
	}
	if err != nil {
		return audio.Clip{}, fmt.Errorf("speechcache: lookup %q: %w", text, err)
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("speechcache: decode %q: %w", text, err)
	}
	return clip, nil
}

// Store implements [Store].
func (s *BadgerStore) Store(_ context.Context, text string, clip audio.Clip) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(text), audio.EncodeWAV(clip))
	})
	if err != nil {
		return fmt.Errorf("speechcache: store %q: %w", text, err)
	}
	return nil
}

// Clear implements [Store].
func (s *BadgerStore) Clear(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("speechcache: clear: %w", err)
	}
	if err := s.db.DropPrefix(keyPrefix); err != nil {
		return 0, fmt.Errorf("speechcache: clear: %w", err)
	}
	slog.Debug("speechcache: cleared", "entries", n)
	return n, nil
}

// Close implements [Store].
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
