package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ovelia/duplex/pkg/adapters/tts"
	"github.com/ovelia/duplex/pkg/logging"
	"github.com/ovelia/duplex/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	SessionID    string
	BaseURL      string
}

// Synthesizer streams audio from the ElevenLabs HTTP streaming endpoint.
// Each Synthesize call is an independent request, so speculative sentence
// prefetches run concurrently without sharing connection state.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_24000"
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  resilience.NewRetryPolicy(2, 200*time.Millisecond),
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan tts.AudioChunk, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty text")
	}

	payload := map[string]any{
		"text":     text,
		"model_id": s.cfg.ModelID,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *http.Response
	// Rate limits and transport errors are retried before the stream starts.
	// Once audio is flowing a failed read ends the sentence instead.
	err = s.retry.Do(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, s.buildURL(), bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", s.cfg.APIKey)

		r, doErr := s.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if r.StatusCode == http.StatusTooManyRequests {
			msg, _ := io.ReadAll(r.Body)
			r.Body.Close()
			s.logger.Warn("elevenlabs rate limit exceeded",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("status", r.Status))
			return resilience.RateLimitError{Provider: "elevenlabs", Message: string(msg)}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errors.New(resp.Status + ": " + string(msg))
	}

	out := make(chan tts.AudioChunk, 16)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		send := func(c tts.AudioChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- c:
				return true
			}
		}

		// The body does not announce its end in-band, so each chunk is
		// held back one read. Whatever is held when EOF arrives is the
		// sentence tail and carries the last marker.
		buf := make([]byte, 4096)
		var pending tts.AudioChunk
		havePending := false
		first := true
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if havePending && !send(pending) {
					return
				}
				pending = tts.AudioChunk{
					Bytes:   append([]byte(nil), buf[:n]...),
					IsFirst: first,
				}
				havePending = true
				if first {
					pending.TTFB = time.Since(start)
					s.logger.Debug("first audio byte",
						slog.String("session_id", s.cfg.SessionID),
						slog.Duration("ttfb", pending.TTFB))
					first = false
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					if havePending {
						pending.IsLast = true
						send(pending)
					}
					return
				}
				if ctx.Err() == nil {
					s.logger.Error("elevenlabs stream read error",
						slog.String("session_id", s.cfg.SessionID),
						slog.String("error", readErr.Error()))
				}
				// A broken stream has no known tail; deliver the held
				// chunk unmarked.
				if havePending {
					send(pending)
				}
				return
			}
		}
	}()
	return out, nil
}

// Flush is a no-op for the HTTP transport; there is no shared connection
// buffering audio between requests. Cancelled contexts end the streams.
func (s *Synthesizer) Flush() {}

func (s *Synthesizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Synthesizer) buildURL() string {
	host := s.cfg.BaseURL
	if host == "" {
		host = "https://api.elevenlabs.io"
	}
	base := host + "/v1/text-to-speech/" + s.cfg.VoiceID + "/stream"
	q := url.Values{}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
