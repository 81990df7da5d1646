package speechcache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/signglove/pkg/audio"
)

var testClip = audio.Clip{
	Format: audio.Format{SampleRate: 22050, Channels: 1},
	PCM:    []byte{1, 0, 2, 0, 3, 0, 4, 0},
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	db, err := OpenBadger("", InMemory())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Store{"dir": dir, "badger": db}
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Lookup(ctx, "HELLO"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Lookup on empty store err = %v, want ErrNotFound", err)
			}
			if err := s.Store(ctx, "HELLO", testClip); err != nil {
				t.Fatalf("Store: %v", err)
			}
			got, err := s.Lookup(ctx, " HELLO ")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if got.Format != testClip.Format || !bytes.Equal(got.PCM, testClip.PCM) {
				t.Errorf("Lookup = %+v, want %+v", got, testClip)
			}
		})
	}
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, text := range []string{"EAT", "HELLO", "A B"} {
				if err := s.Store(ctx, text, testClip); err != nil {
					t.Fatalf("Store(%q): %v", text, err)
				}
			}
			n, err := s.Clear(ctx)
			if err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if n != 3 {
				t.Errorf("Clear removed %d, want 3", n)
			}
			if _, err := s.Lookup(ctx, "EAT"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Lookup after Clear err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDirStore_FileNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want string
	}{
		{"HELLO", "HELLO.wav"},
		{" EAT ", "EAT.wav"},
		{"A/B", "A_B.wav"},
		{"..", "_...wav"},
		{"", "_.wav"},
	}
	for _, tt := range tests {
		if got := fileName(tt.text); got != tt.want {
			t.Errorf("fileName(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestDirStore_ClearKeepsForeignFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := NewDirStore(root)
	if err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Store(context.Background(), "HI", testClip); err != nil {
		t.Fatal(err)
	}
	if n, err := s.Clear(context.Background()); err != nil || n != 1 {
		t.Fatalf("Clear = (%d, %v), want (1, nil)", n, err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("foreign file removed: %v", err)
	}
}

func TestDirStore_CorruptFile(t *testing.T) {
	t.Parallel()
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("BAD"), []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = s.Lookup(context.Background(), "BAD")
	if !errors.Is(err, audio.ErrInvalidWAV) {
		t.Errorf("err = %v, want ErrInvalidWAV", err)
	}
}
