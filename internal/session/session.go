// Package session owns the per-connection state machine: Init, Listening,
// Transcribing, Reasoning, Speaking, Closed. One Session is created per
// WebSocket connection and runs until the client disconnects, the
// connection errors, or the caller cancels its context.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coder/websocket"

	"github.com/MrWong99/bridge/internal/observe"
)

// State names a node in the Session Pipeline state machine.
type State int

const (
	StateInit State = iota
	StateListening
	StateTranscribing
	StateReasoning
	StateSpeaking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateReasoning:
		return "reasoning"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	default:
		return "init"
	}
}

const (
	defaultSampleRate     = 16000
	defaultChannels       = 1
	defaultChunkMs        = 10
	defaultSoftCapBytes   = 320_000 // ~10s at 16kHz 16-bit mono
	sttFallbackText       = "I didn't catch that. Please try again."
	outboundChunkInterval = 10 * time.Millisecond
)

// Transcriber is the single-shot speech-to-text contract a Session depends
// on (satisfied by *stt.Provider and *stt.MockTranscriber).
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Synthesizer is the single-sentence text-to-speech contract a Session
// depends on (satisfied by *tts.Provider and *tts.MockSynthesizer).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Segmenter is the utterance-segmentation contract a Session depends on
// (satisfied by *vad.Segmenter).
type Segmenter interface {
	ProcessChunk(chunk []byte) (complete bool, completed []byte)
	ForceComplete() []byte
	Reset()
}

// Conversation is the turn-taking contract a Session depends on (satisfied
// by *llm.Client). Per-turn provider failures are handled internally by the
// implementation and surfaced as an ordinary apology sentence on the
// channel, never as a returned error once streaming has begun.
type Conversation interface {
	Chat(ctx context.Context, userText string) (<-chan string, error)
	Reset()
}

// wsConn is the subset of *websocket.Conn a Session uses. Narrowed to an
// interface so tests can substitute an in-memory fake.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ wsConn = (*websocket.Conn)(nil)

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics attaches a metrics recorder. A nil metrics is valid.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// StatusRecorder receives the lightweight aggregate counters the /api/status
// HTTP endpoint reports (connections, total_requests, avg_latency_ms). It is
// distinct from [observe.Metrics]: that surface is OpenTelemetry instruments
// meant for a /metrics scrape, not something a request handler can read back
// synchronously in-process.
type StatusRecorder interface {
	SessionStarted()
	SessionEnded()
	RecordTurn(d time.Duration)
}

// WithStatusRecorder attaches a StatusRecorder. A nil recorder is valid.
func WithStatusRecorder(r StatusRecorder) Option {
	return func(s *Session) { s.status = r }
}

// WithAudioFormat overrides the PCM sample rate and channel count.
// Defaults to 16000 Hz, mono.
func WithAudioFormat(sampleRate, channels int) Option {
	return func(s *Session) {
		if sampleRate > 0 {
			s.sampleRate = sampleRate
		}
		if channels > 0 {
			s.channels = channels
		}
	}
}

// WithInboundSoftCap overrides the inbound audio buffer's soft byte cap.
// Defaults to ~320KB (10s at 16kHz 16-bit mono).
func WithInboundSoftCap(bytes int) Option {
	return func(s *Session) {
		if bytes > 0 {
			s.softCapBytes = bytes
		}
	}
}

// Session runs the Session Pipeline state machine for one WebSocket
// connection.
type Session struct {
	conn        wsConn
	transcriber Transcriber
	synthesizer Synthesizer
	segmenter   Segmenter
	chat        Conversation
	logger      *slog.Logger
	metrics     *observe.Metrics
	status      StatusRecorder

	sampleRate   int
	channels     int
	softCapBytes int

	writeMu  sync.Mutex // guards conn writes; coder/websocket forbids concurrent writers
	state    State
	inbound  *inboundQueue
	control  chan clientMessage
	closed   chan struct{}
}

// New creates a Session. transcriber, synthesizer, segmenter, and chat must
// all be non-nil.
func New(conn wsConn, transcriber Transcriber, synthesizer Synthesizer, segmenter Segmenter, chat Conversation, opts ...Option) *Session {
	s := &Session{
		conn:         conn,
		transcriber:  transcriber,
		synthesizer:  synthesizer,
		segmenter:    segmenter,
		chat:         chat,
		logger:       slog.Default(),
		sampleRate:   defaultSampleRate,
		channels:     defaultChannels,
		softCapBytes: defaultSoftCapBytes,
		state:        StateInit,
		control:      make(chan clientMessage, 8),
		closed:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.inbound = newInboundQueue(s.softCapBytes, s.logger)
	return s
}

// clientMessage is a parsed client→server control message.
type clientMessage struct {
	Type string `json:"type"`
}

// serverMessage is a server→client control/status envelope. Only the
// fields relevant to Type are populated.
type serverMessage struct {
	Type        string    `json:"type"`
	SampleRate  int       `json:"sample_rate,omitempty"`
	ChunkSizeMs int       `json:"chunk_size_ms,omitempty"`
	State       string    `json:"state,omitempty"`
	Latency     *latency  `json:"latency,omitempty"`
	Message     string    `json:"message,omitempty"`
	Code        string    `json:"code,omitempty"`
}

type latency struct {
	SttMs   int64 `json:"stt_ms"`
	LlmMs   int64 `json:"llm_ms"`
	TtsMs   int64 `json:"tts_ms"`
	TotalMs int64 `json:"total_ms"`
}

// Run executes the Session Pipeline until ctx is cancelled or the
// connection closes. It always leaves the underlying connection closed.
func (s *Session) Run(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
		defer s.metrics.ActiveSessions.Add(ctx, -1)
	}
	if s.status != nil {
		s.status.SessionStarted()
		defer s.status.SessionEnded()
	}

	if err := s.sendJSON(ctx, serverMessage{
		Type:        "connected",
		SampleRate:  s.sampleRate,
		ChunkSizeMs: defaultChunkMs,
	}); err != nil {
		_ = s.conn.Close(websocket.StatusInternalError, "session setup failed")
		return fmt.Errorf("session: send connected: %w", err)
	}
	s.setState(StateListening)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.recvLoop(gctx) })
	g.Go(func() error { return s.mainLoop(gctx) })

	err := g.Wait()
	close(s.closed)
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return err
}

func (s *Session) setState(st State) {
	s.state = st
}

// recvLoop reads frames off the WebSocket as fast as they arrive. Binary
// frames are pushed into the inbound queue; text frames are parsed as
// control messages. ping is answered immediately; reset/end_of_speech are
// forwarded to mainLoop since they mutate segmenter/chat state mainLoop
// owns.
func (s *Session) recvLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			s.inbound.push(data)
		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Warn("session: malformed control message", "error", err)
				continue
			}
			switch msg.Type {
			case "ping":
				if err := s.sendJSON(ctx, serverMessage{Type: "pong"}); err != nil {
					return err
				}
			case "reset", "end_of_speech":
				select {
				case s.control <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			default:
				s.logger.Warn("session: unrecognized control message", "type", msg.Type)
			}
		}
	}
}

// mainLoop drives the Listening→Transcribing→Reasoning→Speaking→Listening
// cycle, consuming inbound audio and control messages.
func (s *Session) mainLoop(ctx context.Context) error {
	for {
		complete, pcm, err := s.awaitUtterance(ctx)
		if err != nil {
			return err
		}
		if !complete {
			continue
		}
		if err := s.runTurn(ctx, pcm); err != nil {
			return err
		}
	}
}

// awaitUtterance blocks until the segmenter reports a complete utterance,
// an end_of_speech/reset control message arrives, or ctx is cancelled.
func (s *Session) awaitUtterance(ctx context.Context) (complete bool, pcm []byte, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil, ctx.Err()
		case msg := <-s.control:
			switch msg.Type {
			case "reset":
				s.chat.Reset()
				s.segmenter.Reset()
				s.inbound.drain()
				s.setState(StateListening)
				if err := s.sendJSON(ctx, serverMessage{Type: "status", State: "idle"}); err != nil {
					return false, nil, err
				}
			case "end_of_speech":
				if pcm := s.segmenter.ForceComplete(); pcm != nil {
					return true, pcm, nil
				}
			}
		case <-s.inbound.notify:
			for _, chunk := range s.inbound.drain() {
				if complete, completed := s.segmenter.ProcessChunk(chunk); complete {
					return true, completed, nil
				}
			}
		}
	}
}

// runTurn executes one Transcribing→Reasoning→Speaking cycle for a
// completed utterance and returns to Listening.
func (s *Session) runTurn(ctx context.Context, pcm []byte) error {
	turnStart := time.Now()

	s.setState(StateTranscribing)
	if err := s.sendJSON(ctx, serverMessage{Type: "status", State: StateTranscribing.String()}); err != nil {
		return err
	}

	sttStart := time.Now()
	text, err := s.transcriber.Transcribe(ctx, pcm)
	sttMs := time.Since(sttStart).Milliseconds()
	if err != nil {
		s.logger.Warn("session: transcription failed", "error", err)
		if sendErr := s.speakFallback(ctx, sttFallbackText, "stt_error"); sendErr != nil {
			return sendErr
		}
		s.setState(StateListening)
		return nil
	}
	if text == "" {
		s.setState(StateListening)
		return s.sendJSON(ctx, serverMessage{Type: "status", State: "idle"})
	}

	s.setState(StateReasoning)
	if err := s.sendJSON(ctx, serverMessage{Type: "status", State: StateReasoning.String()}); err != nil {
		return err
	}

	llmStart := time.Now()
	sentences, err := s.chat.Chat(ctx, text)
	if err != nil {
		s.logger.Warn("session: chat turn failed to start", "error", err)
		if sendErr := s.speakFallback(ctx, sttFallbackText, "llm_error"); sendErr != nil {
			return sendErr
		}
		s.setState(StateListening)
		return nil
	}

	var ttsMs int64
	for sentence := range sentences {
		s.setState(StateSpeaking)
		if err := s.sendJSON(ctx, serverMessage{Type: "status", State: StateSpeaking.String()}); err != nil {
			return err
		}

		ttsStart := time.Now()
		audio, synthErr := s.synthesizer.Synthesize(ctx, sentence)
		ttsMs += time.Since(ttsStart).Milliseconds()
		if synthErr != nil {
			s.logger.Warn("session: synthesis failed", "error", synthErr)
			if err := s.sendJSON(ctx, serverMessage{Type: "status", State: "speaking", Message: sentence}); err != nil {
				return err
			}
			continue
		}
		if err := s.sendAudio(ctx, audio); err != nil {
			return err
		}
		s.setState(StateReasoning)
	}
	llmMs := time.Since(llmStart).Milliseconds() - ttsMs

	s.setState(StateListening)
	turnDuration := time.Since(turnStart)
	totalMs := turnDuration.Milliseconds()
	if s.status != nil {
		s.status.RecordTurn(turnDuration)
	}
	return s.sendJSON(ctx, serverMessage{
		Type: "done",
		Latency: &latency{
			SttMs:   sttMs,
			LlmMs:   llmMs,
			TtsMs:   ttsMs,
			TotalMs: totalMs,
		},
	})
}

// speakFallback synthesizes and sends text as a spoken apology, falling
// back to a text-only status message if synthesis itself fails.
func (s *Session) speakFallback(ctx context.Context, text, code string) error {
	if err := s.sendJSON(ctx, serverMessage{Type: "error", Message: text, Code: code}); err != nil {
		return err
	}
	audio, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil || len(audio) == 0 {
		return nil
	}
	return s.sendAudio(ctx, audio)
}

// sendAudio chunks pcm into outbound frames sized for the session's audio
// format and sends each as a binary message, paced to real-time playback.
func (s *Session) sendAudio(ctx context.Context, pcm []byte) error {
	frameBytes := s.sampleRate * s.channels * 2 * defaultChunkMs / 1000
	for _, frame := range chunkPCM(pcm, frameBytes) {
		if err := s.sendBinary(ctx, frame); err != nil {
			return err
		}
		select {
		case <-time.After(outboundChunkInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// chunkPCM splits pcm into frameBytes-sized chunks; the final chunk may be
// shorter.
func chunkPCM(pcm []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(pcm) == 0 {
		return nil
	}
	var frames [][]byte
	for i := 0; i < len(pcm); i += frameBytes {
		end := i + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[i:end])
	}
	return frames
}

func (s *Session) sendJSON(ctx context.Context, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: marshal %q message: %w", msg.Type, err)
	}
	return s.write(ctx, websocket.MessageText, data)
}

func (s *Session) sendBinary(ctx context.Context, data []byte) error {
	return s.write(ctx, websocket.MessageBinary, data)
}

// write serializes conn.Write calls; coder/websocket connections must not
// be written to concurrently.
func (s *Session) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return nil
	default:
	}
	return s.conn.Write(ctx, typ, data)
}
