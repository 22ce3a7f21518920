package app_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/bridge/internal/app"
	"github.com/MrWong99/bridge/internal/config"
	"github.com/MrWong99/bridge/internal/llm"
	"github.com/MrWong99/bridge/internal/stt"
	"github.com/MrWong99/bridge/internal/tts"
	"github.com/MrWong99/bridge/pkg/types"
)

// freePort finds a currently-unused TCP port by binding then immediately
// releasing it, so app.New can be configured with a real listen address.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

type fakeProvider struct{}

func (fakeProvider) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: "ok.", FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (fakeProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "ok"}, nil
}

func (fakeProvider) CountTokens([]types.Message) (int, error) { return 0, nil }

func (fakeProvider) Capabilities() types.ModelCapabilities { return types.ModelCapabilities{} }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBPath:         ":memory:",
		Host:           "127.0.0.1",
		Port:           0,
		LogLevel:       config.LogLevelInfo,
		SampleRate:     16000,
		Channels:       1,
		SilenceMs:      500,
		MaxRecordingMs: 10000,
		STTModelPath:   "unused-in-tests",
		TTSServerURL:   "http://unused.invalid",
		LLM: config.LLMConfig{
			FastModel:     "fake:fast",
			DeepModel:     "fake:deep",
			MaxTokens:     100,
			Concurrency:   2,
			MaxToolRounds: 3,
			HistoryMax:    10,
			APIKey:        "test-key",
		},
	}
}

func testRegistry() *config.Registry {
	r := config.NewRegistry()
	r.Register("fake", func(model, apiKey string) (llm.Provider, error) {
		return fakeProvider{}, nil
	})
	return r
}

func TestNew_WiresSubsystemsFromInjectedFakes(t *testing.T) {
	cfg := testConfig(t)
	a, err := app.New(cfg, testRegistry(),
		app.WithTranscriber(&stt.MockTranscriber{Text: "hello"}),
		app.WithSynthesizer(&tts.MockSynthesizer{PCM: []byte{0, 0}}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Addr() == "" {
		t.Error("Addr() is empty, want a bound listen address")
	}
}

func TestNew_FailsOnUnregisteredModelProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.FastModel = "unregistered:model"

	_, err := app.New(cfg, testRegistry(),
		app.WithTranscriber(&stt.MockTranscriber{}),
		app.WithSynthesizer(&tts.MockSynthesizer{}),
	)
	if err == nil {
		t.Fatal("New() err = nil, want error for unregistered provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want wrapping ErrProviderNotRegistered", err)
	}
}

func TestRunAndShutdown_ServesHealthThenStopsCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = freePort(t)
	a, err := app.New(cfg, testRegistry(),
		app.WithTranscriber(&stt.MockTranscriber{}),
		app.WithSynthesizer(&tts.MockSynthesizer{}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- a.Run(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + a.Addr() + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	cancel()

	select {
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Shutdown")
	}
}
