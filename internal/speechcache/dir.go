package speechcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/signglove/pkg/audio"
)

const wavExt = ".wav"

// DirStore keeps one WAV file per phrase in a directory, named after the
// spoken text.
type DirStore struct {
	dir string
	mu  sync.RWMutex
}

var _ Store = (*DirStore)(nil)

// NewDirStore creates dir if needed and returns a store rooted there.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, errors.New("speechcache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("speechcache: create %s: %w", dir, err)
	}
	return &DirStore{dir: dir}, nil
}

// Path returns the file a text is cached in.
func (s *DirStore) Path(text string) string {
	return filepath.Join(s.dir, fileName(text))
}

// fileName maps text to a single path element. Separators and other
// characters that are unsafe in file names become underscores.
func fileName(text string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, Key(text))
	if name == "" || name == "." || name == ".." {
		name = "_" + name
	}
	return name + wavExt
}

// Lookup implements [Store].
func (s *DirStore) Lookup(_ context.Context, text string) (audio.Clip, error) {
	s.mu.RLock()
	data, err := os.ReadFile(s.Path(text))
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return audio.Clip{}, ErrNotFound
	}
	if err != nil {
		return audio.Clip{}, fmt.Errorf("speechcache: read %q: %w", text, err)
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("speechcache: decode %q: %w", text, err)
	}
	return clip, nil
}

// Store implements [Store]. The file is written to a temporary name and
// renamed so a concurrent Lookup never sees a partial clip.
func (s *DirStore) Store(_ context.Context, text string, clip audio.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".speech-*")
	if err != nil {
		return fmt.Errorf("speechcache: store %q: %w", text, err)
	}
	if _, err := tmp.Write(audio.EncodeWAV(clip)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("speechcache: store %q: %w", text, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("speechcache: store %q: %w", text, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(text)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("speechcache: store %q: %w", text, err)
	}
	return nil
}

// Clear implements [Store]. Only cached WAV files are removed.
func (s *DirStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("speechcache: clear: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), wavExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if err := errors.Join(errs...); err != nil {
		return removed, fmt.Errorf("speechcache: clear: %w", err)
	}
	return removed, nil
}

// Close implements [Store]. It is a no-op.
func (s *DirStore) Close() error { return nil }
