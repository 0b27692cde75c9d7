package elevenlabs

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ovelia/duplex/pkg/adapters/tts"
)

func collectChunks(t *testing.T, ch <-chan tts.AudioChunk) []tts.AudioChunk {
	t.Helper()
	var out []tts.AudioChunk
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatal("stream never closed")
		}
	}
}

func TestSynthesizeMarksStreamBoundaries(t *testing.T) {
	audio := bytes.Repeat([]byte{0xAB}, 4096*2+37)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	s := New(Config{APIKey: "key", VoiceID: "voice", BaseURL: srv.URL})
	ch, err := s.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	chunks := collectChunks(t, ch)
	if len(chunks) == 0 {
		t.Fatal("no audio received")
	}

	var got []byte
	for i, c := range chunks {
		got = append(got, c.Bytes...)
		if c.IsFirst != (i == 0) {
			t.Fatalf("chunk %d: IsFirst=%v", i, c.IsFirst)
		}
		if c.IsLast != (i == len(chunks)-1) {
			t.Fatalf("chunk %d of %d: IsLast=%v", i, len(chunks), c.IsLast)
		}
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("audio mismatch: got %d bytes, want %d", len(got), len(audio))
	}
	if chunks[0].TTFB <= 0 {
		t.Fatal("first chunk must carry time to first byte")
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	s := New(Config{APIKey: "key", VoiceID: "voice"})
	if _, err := s.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}
