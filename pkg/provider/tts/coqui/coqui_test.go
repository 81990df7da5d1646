package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/signglove/pkg/audio"
	"github.com/MrWong99/signglove/pkg/provider/tts"
)

// ---- test helpers ----

func testWAV(rate int, samples ...int16) []byte {
	return audio.EncodeWAV(audio.Clip{
		Format: audio.Format{SampleRate: rate, Channels: 1},
		PCM:    audio.PCM(samples),
	})
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002")
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
		if p.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
	})

	t.Run("options", func(t *testing.T) {
		p := mustNew(t, "http://x", WithLanguage("de"), WithVoice("p225"), WithTimeout(time.Second), WithAPIMode(APIModeXTTS))
		if p.language != "de" || p.voice != "p225" || p.httpClient.Timeout != time.Second || p.apiMode != APIModeXTTS {
			t.Errorf("options not applied: %+v", p)
		}
	})

	t.Run("empty url", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty serverURL")
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		if _, err := New("http://x", WithAPIMode("bogus")); err == nil {
			t.Error("expected error for unknown API mode")
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.Error(w, "unexpected", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"text":        q.Get("text"),
			"speaker_id":  q.Get("speaker_id"),
			"language_id": q.Get("language_id"),
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(testWAV(22050, 1, 2, 3))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithVoice("p225"))
	clip, err := p.Synthesize(context.Background(), "  HELLO ", tts.SynthesisOptions{Language: "de"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 22050 || clip.Channels != 1 {
		t.Errorf("format = %v, want 22050Hz mono", clip.Format)
	}
	if s := audio.Samples(clip.PCM); !slices.Equal(s, []int16{1, 2, 3}) {
		t.Errorf("samples = %v, want [1 2 3]", s)
	}
	want := map[string]string{"text": "HELLO", "speaker_id": "p225", "language_id": "de"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.Error(w, "unexpected", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write(testWAV(24000, 5, 6))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), "EAT", tts.SynthesisOptions{}); err == nil {
		t.Fatal("expected error without a voice in XTTS mode")
	}
	clip, err := p.Synthesize(context.Background(), "EAT", tts.SynthesisOptions{Voice: "Ana Florence"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Text != "EAT" || got.SpeakerWav != "Ana Florence" || got.Language != defaultLanguage {
		t.Errorf("request = %+v", got)
	}
	if clip.Frames() != 2 {
		t.Errorf("Frames = %d, want 2", clip.Frames())
	}
}

func TestSynthesize_OutputFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(testWAV(8000, 0, 100))
	}))
	defer srv.Close()

	target := audio.Format{SampleRate: 16000, Channels: 2}
	p := mustNew(t, srv.URL, WithOutputFormat(target))
	clip, err := p.Synthesize(context.Background(), "A", tts.SynthesisOptions{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.Format != target {
		t.Errorf("format = %v, want %v", clip.Format, target)
	}
	if clip.Frames() != 4 {
		t.Errorf("Frames = %d, want 4", clip.Frames())
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		text    string
		check   func(error) bool
	}{
		{
			name:    "empty text",
			handler: func(w http.ResponseWriter, _ *http.Request) {},
			text:    "   ",
			check:   func(err error) bool { return errors.Is(err, tts.ErrEmptyText) },
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			text:  "A",
			check: func(err error) bool { return err != nil },
		},
		{
			name: "not a wav",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte("<html>oops</html>"))
			},
			text:  "A",
			check: func(err error) bool { return errors.Is(err, audio.ErrInvalidWAV) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			p := mustNew(t, srv.URL)
			_, err := p.Synthesize(context.Background(), tt.text, tts.SynthesisOptions{})
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := mustNew(t, srv.URL, WithTimeout(20*time.Millisecond))
	start := time.Now()
	if _, err := p.Synthesize(context.Background(), "A", tts.SynthesisOptions{}); err == nil {
		t.Fatal("expected timeout error")
	}
	if el := time.Since(start); el > time.Second {
		t.Errorf("Synthesize took %v, want the 20ms timeout", el)
	}
}
