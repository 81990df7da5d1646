// Package speechcache persists synthesized speech keyed by the spoken text so
// a phrase is downloaded once and replayed from local storage afterwards.
package speechcache

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/signglove/pkg/audio"
)

// ErrNotFound is returned by [Store.Lookup] when no clip is cached for a text.
var ErrNotFound = errors.New("speechcache: not found")

// Store is a text-keyed clip cache. Implementations must be safe for
// concurrent use.
type Store interface {
	// Lookup returns the clip cached for text or [ErrNotFound].
	Lookup(ctx context.Context, text string) (audio.Clip, error)

	// Store caches clip under text, replacing any previous entry.
	Store(ctx context.Context, text string, clip audio.Clip) error

	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Close releases the underlying storage.
	Close() error
}

// Key normalizes text into the cache key. Surrounding whitespace is dropped
// so "HELLO " and "HELLO" share an entry.
func Key(text string) string {
	return strings.TrimSpace(text)
}
