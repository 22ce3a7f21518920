package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

const (
	defaultHost           = "0.0.0.0"
	defaultPort           = 8080
	defaultSampleRate     = 16000
	defaultChannels       = 1
	defaultSilenceMs      = 500
	defaultMaxRecordingMs = 10000
	defaultMaxTokens      = 1024
	defaultConcurrency    = 3
	defaultMaxToolRounds  = 5
	defaultHistoryMax     = 20
	defaultTTSServerURL   = "http://localhost:5002"
)

// Load reads the bridge's configuration from environment variables, applies
// defaults for anything unset, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:         getEnv("DB_PATH", ":memory:"),
		Host:           getEnv("HOST", defaultHost),
		Port:           getEnvInt("PORT", defaultPort),
		LogLevel:       LogLevel(getEnv("LOG_LEVEL", string(LogLevelInfo))),
		SampleRate:     getEnvInt("SAMPLE_RATE", defaultSampleRate),
		Channels:       getEnvInt("CHANNELS", defaultChannels),
		SilenceMs:      getEnvInt("SILENCE_MS", defaultSilenceMs),
		MaxRecordingMs: getEnvInt("MAX_RECORDING_MS", defaultMaxRecordingMs),
		STTModelPath:   os.Getenv("STT_MODEL_PATH"),
		TTSServerURL:   getEnv("TTS_SERVER_URL", defaultTTSServerURL),
		LLM: LLMConfig{
			FastModel:     os.Getenv("LLM_FAST_MODEL"),
			DeepModel:     os.Getenv("LLM_DEEP_MODEL"),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", defaultMaxTokens),
			Concurrency:   getEnvInt("LLM_CONCURRENCY", defaultConcurrency),
			MaxToolRounds: getEnvInt("LLM_MAX_TOOL_ROUNDS", defaultMaxToolRounds),
			HistoryMax:    getEnvInt("LLM_HISTORY_MAX", defaultHistoryMax),
			APIKey:        os.Getenv("LLM_API_KEY"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found, not just the first.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", cfg.SampleRate))
	}
	if cfg.Channels != 1 {
		errs = append(errs, fmt.Errorf("channels %d is unsupported; only mono (1) audio is accepted", cfg.Channels))
	}
	if cfg.SilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("silence_ms %d must be positive", cfg.SilenceMs))
	}
	if cfg.MaxRecordingMs <= cfg.SilenceMs {
		errs = append(errs, fmt.Errorf("max_recording_ms %d must exceed silence_ms %d", cfg.MaxRecordingMs, cfg.SilenceMs))
	}
	if cfg.STTModelPath == "" {
		errs = append(errs, errors.New("stt_model_path is required"))
	}
	if cfg.TTSServerURL == "" {
		errs = append(errs, errors.New("tts_server_url is required"))
	}

	if cfg.LLM.FastModel == "" {
		errs = append(errs, errors.New("llm_fast_model is required"))
	} else if _, _, err := ParseModelRef(cfg.LLM.FastModel); err != nil {
		errs = append(errs, err)
	}
	if cfg.LLM.DeepModel == "" {
		errs = append(errs, errors.New("llm_deep_model is required"))
	} else if _, _, err := ParseModelRef(cfg.LLM.DeepModel); err != nil {
		errs = append(errs, err)
	}
	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm_max_tokens %d must be positive", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("llm_concurrency %d must be positive", cfg.LLM.Concurrency))
	}
	if cfg.LLM.MaxToolRounds <= 0 {
		errs = append(errs, fmt.Errorf("llm_max_tool_rounds %d must be positive", cfg.LLM.MaxToolRounds))
	}
	if cfg.LLM.HistoryMax <= 0 {
		errs = append(errs, fmt.Errorf("llm_history_max %d must be positive", cfg.LLM.HistoryMax))
	}
	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm_api_key is required"))
	}

	return errors.Join(errs...)
}

func getEnv(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
