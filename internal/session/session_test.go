package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type fakeFrame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn is an in-memory wsConn test double. Reads are delivered from a
// pre-populated channel; writes are recorded for inspection.
type fakeConn struct {
	reads chan fakeFrame

	mu      sync.Mutex
	written []fakeFrame

	onWrite func(fakeFrame)
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan fakeFrame, 32)}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f, ok := <-c.reads:
		if !ok {
			return 0, nil, io.EOF
		}
		return f.typ, f.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f := fakeFrame{typ, cp}

	c.mu.Lock()
	c.written = append(c.written, f)
	c.mu.Unlock()

	if c.onWrite != nil {
		c.onWrite(f)
	}
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error { return nil }

func (c *fakeConn) writtenCopy() []fakeFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeFrame, len(c.written))
	copy(out, c.written)
	return out
}

// fakeSegmenter completes after completeOn calls to ProcessChunk, returning
// result.
type fakeSegmenter struct {
	mu         sync.Mutex
	completeOn int
	calls      int
	result     []byte
	resetCount int
}

func (f *fakeSegmenter) ProcessChunk(chunk []byte) (bool, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls >= f.completeOn {
		return true, f.result
	}
	return false, nil
}

func (f *fakeSegmenter) ForceComplete() []byte { return f.result }

func (f *fakeSegmenter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCount++
}

// fakeChat emits a fixed set of sentences and closes.
type fakeChat struct {
	sentences []string
	resetN    int
}

func (f *fakeChat) Chat(ctx context.Context, userText string) (<-chan string, error) {
	ch := make(chan string, len(f.sentences))
	for _, s := range f.sentences {
		ch <- s
	}
	close(ch)
	return ch, nil
}

func (f *fakeChat) Reset() { f.resetN++ }

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return f.text, f.err
}

type fakeSynth struct {
	pcm []byte
	err error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.pcm, f.err
}

func waitForType(t *testing.T, conn *fakeConn, want string, timeout time.Duration) serverMessage {
	t.Helper()
	deadline := time.After(timeout)
	for {
		for _, f := range conn.writtenCopy() {
			if f.typ != websocket.MessageText {
				continue
			}
			var msg serverMessage
			if err := json.Unmarshal(f.data, &msg); err == nil && msg.Type == want {
				return msg
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for message type %q", want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSession_SendsConnectedMessageOnRun(t *testing.T) {
	conn := newFakeConn()
	s := New(conn, &fakeTranscriber{text: "hi"}, &fakeSynth{pcm: []byte{}}, &fakeSegmenter{completeOn: 1},
		&fakeChat{sentences: nil})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	msg := waitForType(t, conn, "connected", time.Second)
	if msg.SampleRate != defaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", msg.SampleRate, defaultSampleRate)
	}
	if msg.ChunkSizeMs != defaultChunkMs {
		t.Errorf("ChunkSizeMs = %d, want %d", msg.ChunkSizeMs, defaultChunkMs)
	}

	cancel()
	<-done
}

func TestSession_PingRespondsWithPong(t *testing.T) {
	conn := newFakeConn()
	s := New(conn, &fakeTranscriber{text: "hi"}, &fakeSynth{pcm: []byte{}}, &fakeSegmenter{completeOn: 100},
		&fakeChat{sentences: nil})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForType(t, conn, "connected", time.Second)

	ping, _ := json.Marshal(clientMessage{Type: "ping"})
	conn.reads <- fakeFrame{websocket.MessageText, ping}

	waitForType(t, conn, "pong", time.Second)

	cancel()
	<-done
}

func TestSession_CompleteUtteranceProducesAudioAndDone(t *testing.T) {
	conn := newFakeConn()
	synthPCM := make([]byte, 640) // two 320-byte frames at 16kHz mono 16-bit
	transcriber := &fakeTranscriber{text: "how much did I spend today"}
	synth := &fakeSynth{pcm: synthPCM}
	seg := &fakeSegmenter{completeOn: 1, result: make([]byte, 3200)}
	chat := &fakeChat{sentences: []string{"You spent twelve dollars today."}}

	s := New(conn, transcriber, synth, seg, chat)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForType(t, conn, "connected", time.Second)
	conn.reads <- fakeFrame{websocket.MessageBinary, make([]byte, 320)}

	doneMsg := waitForType(t, conn, "done", 2*time.Second)
	if doneMsg.Latency == nil {
		t.Fatal("done message missing latency")
	}

	var binaryFrames int
	for _, f := range conn.writtenCopy() {
		if f.typ == websocket.MessageBinary {
			binaryFrames++
		}
	}
	if binaryFrames != 2 {
		t.Errorf("binary frames sent = %d, want 2", binaryFrames)
	}

	cancel()
	<-done
}

func TestSession_EmptyTranscriptReturnsToListeningWithoutLLMCall(t *testing.T) {
	conn := newFakeConn()
	transcriber := &fakeTranscriber{text: ""}
	chat := &fakeChat{sentences: []string{"should not be spoken"}}
	seg := &fakeSegmenter{completeOn: 1, result: make([]byte, 100)}

	s := New(conn, transcriber, &fakeSynth{}, seg, chat)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForType(t, conn, "connected", time.Second)
	conn.reads <- fakeFrame{websocket.MessageBinary, make([]byte, 320)}

	// Give the pipeline a moment to process, then confirm no "reasoning"
	// status (and thus no Chat call) occurred.
	time.Sleep(50 * time.Millisecond)
	for _, f := range conn.writtenCopy() {
		if f.typ != websocket.MessageText {
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(f.data, &msg); err == nil && msg.State == "reasoning" {
			t.Fatal("session entered reasoning state on an empty transcript")
		}
	}

	cancel()
	<-done
}

func TestSession_STTFailureSendsFallback(t *testing.T) {
	conn := newFakeConn()
	transcriber := &fakeTranscriber{text: "", err: errTest}
	seg := &fakeSegmenter{completeOn: 1, result: make([]byte, 100)}
	synth := &fakeSynth{pcm: []byte{1, 2, 3, 4}}

	s := New(conn, transcriber, synth, seg, &fakeChat{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForType(t, conn, "connected", time.Second)
	conn.reads <- fakeFrame{websocket.MessageBinary, make([]byte, 320)}

	errMsg := waitForType(t, conn, "error", time.Second)
	if errMsg.Code != "stt_error" {
		t.Errorf("Code = %q, want stt_error", errMsg.Code)
	}

	cancel()
	<-done
}

func TestSession_ResetClearsSegmenterAndChat(t *testing.T) {
	conn := newFakeConn()
	seg := &fakeSegmenter{completeOn: 1000}
	chat := &fakeChat{}

	s := New(conn, &fakeTranscriber{}, &fakeSynth{}, seg, chat)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForType(t, conn, "connected", time.Second)

	reset, _ := json.Marshal(clientMessage{Type: "reset"})
	conn.reads <- fakeFrame{websocket.MessageText, reset}

	waitForType(t, conn, "status", time.Second)

	cancel()
	<-done

	if chat.resetN != 1 {
		t.Errorf("chat.Reset calls = %d, want 1", chat.resetN)
	}
	if seg.resetCount != 1 {
		t.Errorf("segmenter.Reset calls = %d, want 1", seg.resetCount)
	}
}

func TestChunkPCM_SplitsIntoFixedFrames(t *testing.T) {
	pcm := make([]byte, 750)
	frames := chunkPCM(pcm, 320)
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	if len(frames[0]) != 320 || len(frames[1]) != 320 {
		t.Errorf("frame sizes = %d, %d, want 320, 320", len(frames[0]), len(frames[1]))
	}
	if len(frames[2]) != 110 {
		t.Errorf("final frame size = %d, want 110", len(frames[2]))
	}
}

func TestChunkPCM_EmptyInputReturnsNil(t *testing.T) {
	if frames := chunkPCM(nil, 320); frames != nil {
		t.Errorf("chunkPCM(nil) = %v, want nil", frames)
	}
}

var errTest = &testError{"stt engine unavailable"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
