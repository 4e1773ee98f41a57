package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write configuration: %v", err)
	}
	return dir
}

func TestLoadFillsInDefaults(t *testing.T) {
	dir := writeConfig(t, `
pipelines:
  default:
    wake:
      service_url: ws://localhost:10400
      names: [computer]
    intent:
      url: https://api.groq.com/openai/v1/chat/completions
      model: llama-3.3-70b-versatile
    handle:
      url: http://localhost:13100/handle
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected the configuration to load, got %v", err)
	}

	pipeline, err := cfg.Pipeline("default")
	if err != nil {
		t.Fatalf("expected the default pipeline, got %v", err)
	}

	if pipeline.ASR.Provider != "deepgram" {
		t.Fatalf("expected the default asr provider, got %q", pipeline.ASR.Provider)
	}
	if pipeline.TTS.Provider != "deepgram" {
		t.Fatalf("expected the default tts provider, got %q", pipeline.TTS.Provider)
	}
	if pipeline.Audio.Backend != "miniaudio" || pipeline.Audio.BufferSize != 1024 {
		t.Fatalf("expected the default audio backend, got %+v", pipeline.Audio)
	}
	if pipeline.Intent.APIKeyEnv != "GROQ_API_KEY" {
		t.Fatalf("expected the default api key env, got %q", pipeline.Intent.APIKeyEnv)
	}
	if pipeline.Wake.ServiceURL != "ws://localhost:10400" {
		t.Fatalf("expected the configured wake service, got %q", pipeline.Wake.ServiceURL)
	}
}

func TestLoadKeepsConfiguredValues(t *testing.T) {
	dir := writeConfig(t, `
pipelines:
  studio:
    tts:
      voice: aura-luna-en
    audio:
      backend: portaudio
      buffer_size: 2048
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected the configuration to load, got %v", err)
	}

	pipeline, err := cfg.Pipeline("studio")
	if err != nil {
		t.Fatalf("expected the studio pipeline, got %v", err)
	}
	if pipeline.TTS.Voice != "aura-luna-en" {
		t.Fatalf("expected the configured voice, got %q", pipeline.TTS.Voice)
	}
	if pipeline.Audio.Backend != "portaudio" || pipeline.Audio.BufferSize != 2048 {
		t.Fatalf("expected the configured audio backend, got %+v", pipeline.Audio)
	}
}

func TestPipelineLookupNamesKnownPipelines(t *testing.T) {
	dir := writeConfig(t, `
pipelines:
  default: {}
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected the configuration to load, got %v", err)
	}

	if _, err := cfg.Pipeline("missing"); err == nil {
		t.Fatalf("expected an error for an unknown pipeline")
	}
}

func TestLoadFailsWithoutConfiguration(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected an error for a missing configuration")
	}
}
