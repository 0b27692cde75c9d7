package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ovelia/duplex/pkg/adapters/audio"
	"github.com/ovelia/duplex/pkg/errorsx"
	"github.com/ovelia/duplex/pkg/frames"
	"github.com/ovelia/duplex/pkg/logging"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	AudioPath      string   `mapstructure:"audio_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8085"
	}
	if c.AudioPath == "" {
		c.AudioPath = "/audio"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport is a websocket audio engine: a browser or device client streams
// VAD-tagged microphone audio up and receives synthesized audio plus
// playback control events down. One client session is active at a time; a
// new connection displaces the old one.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.TaggedAudio
	pts      *frames.PTSGen
	logger   *slog.Logger

	mu       sync.Mutex
	sess     *session
	audioCfg audio.Config
	playing  bool
	paused   bool

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh: make(chan frames.TaggedAudio, 512),
		pts:    frames.NewPTSGen(),
		logger: logging.NewComponentLogger(slog.Default(), "ws_transport"),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Configure(cfg audio.Config) error {
	t.mu.Lock()
	t.audioCfg = cfg
	t.mu.Unlock()
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.AudioPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("ws_transport_server_error", "error", err.Error())
		}
	}()
	t.logger.Info("websocket transport listening",
		slog.String("addr", t.cfg.ServerAddr),
		slog.String("path", t.cfg.AudioPath))
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
	return nil
}

func (t *Transport) Frames() <-chan frames.TaggedAudio { return t.recvCh }

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	streamID := uuid.NewString()
	sess := &session{conn: conn, sendCh: make(chan []byte, 256)}
	t.mu.Lock()
	old := t.sess
	t.sess = sess
	t.mu.Unlock()
	if old != nil {
		_ = old.close()
	}
	go sess.loop()

	t.logger.Info("client connected", slog.String("stream_id", streamID))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt clientEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "audio":
			if evt.Audio == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Audio)
			if err != nil {
				continue
			}
			t.mu.Lock()
			rate := t.audioCfg.SampleRate
			ch := t.audioCfg.Channels
			t.mu.Unlock()
			if rate == 0 {
				rate = 16000
			}
			if ch == 0 {
				ch = 1
			}
			meta := map[string]string{frames.MetaSource: "transport"}
			af := frames.NewAudioFrame(streamID, t.pts.Next(streamID), payload, rate, ch, meta)
			ta := frames.TaggedAudio{
				Audio: af,
				VAD: frames.VADResult{
					Speech:     evt.VAD.Speech,
					Confidence: evt.VAD.Confidence,
				},
			}
			select {
			case t.recvCh <- ta:
			default:
				t.logger.Warn("inbound audio buffer full", slog.String("stream_id", streamID))
			}
		case "stop":
			t.logger.Info("client requested stop", slog.String("stream_id", streamID))
			t.detach(sess)
			return
		}
	}
	t.detach(sess)
	t.logger.Info("client disconnected", slog.String("stream_id", streamID))
}

func (t *Transport) detach(sess *session) {
	t.mu.Lock()
	if t.sess == sess {
		t.sess = nil
	}
	t.mu.Unlock()
	_ = sess.close()
}

// PlayAudio forwards one synthesized chunk to the client. Chunks sent while
// paused stay queued client-side; the control events below govern what the
// client actually renders.
func (t *Transport) PlayAudio(chunk []byte) error {
	t.mu.Lock()
	sess := t.sess
	t.playing = true
	t.mu.Unlock()
	if sess == nil {
		return errorsx.Reasonf(errorsx.ReasonTransportSend, "no client connected")
	}
	return sess.enqueue(map[string]any{
		"event":   "media",
		"payload": base64.StdEncoding.EncodeToString(chunk),
	})
}

func (t *Transport) PausePlayback() bool {
	t.mu.Lock()
	sess := t.sess
	wasPlaying := t.playing && !t.paused
	if wasPlaying {
		t.paused = true
	}
	t.mu.Unlock()
	if !wasPlaying || sess == nil {
		return false
	}
	_ = sess.enqueue(controlMessage(frames.ControlPausePlayback))
	return true
}

func (t *Transport) ResumePlayback() bool {
	t.mu.Lock()
	sess := t.sess
	wasPaused := t.paused
	t.paused = false
	t.mu.Unlock()
	if !wasPaused || sess == nil {
		return false
	}
	_ = sess.enqueue(controlMessage(frames.ControlResumePlayback))
	return true
}

func (t *Transport) StopPlayback() {
	t.mu.Lock()
	sess := t.sess
	t.playing = false
	t.paused = false
	t.mu.Unlock()
	if sess == nil {
		return
	}
	_ = sess.enqueue(controlMessage(frames.ControlStopPlayback))
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func controlMessage(code frames.ControlCode) map[string]any {
	return map[string]any{
		"event": "control",
		"code":  string(code),
	}
}

type session struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed atomic.Bool
}

func (s *session) enqueue(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- b:
	default:
	}
	return nil
}

func (s *session) loop() {
	for msg := range s.sendCh {
		_ = s.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	return s.conn.Close()
}

// clientEvent is the inbound message envelope. Audio is base64 PCM; the VAD
// classification is computed client-side next to the microphone.
type clientEvent struct {
	Event string    `json:"event"`
	Audio string    `json:"audio,omitempty"`
	VAD   clientVAD `json:"vad,omitempty"`
}

type clientVAD struct {
	Speech     bool    `json:"speech"`
	Confidence float64 `json:"confidence"`
}

var _ audio.IO = (*Transport)(nil)
