// Package config loads the runtime configuration directory: a
// configuration.yaml naming pipelines and the services each stage talks to.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFileName = "configuration.yaml"

type Config struct {
	Pipelines map[string]Pipeline `yaml:"pipelines"`
}

// Pipeline selects and configures the services for each stage of one
// voice pipeline.
type Pipeline struct {
	Wake   WakeConfig   `yaml:"wake"`
	ASR    ASRConfig    `yaml:"asr"`
	Intent IntentConfig `yaml:"intent"`
	Handle HandleConfig `yaml:"handle"`
	TTS    TTSConfig    `yaml:"tts"`
	Audio  AudioConfig  `yaml:"audio"`
}

type WakeConfig struct {
	// ServiceURL is the websocket address of the wake word service.
	ServiceURL string   `yaml:"service_url"`
	Names      []string `yaml:"names"`
}

type ASRConfig struct {
	Provider string `yaml:"provider"`
}

type IntentConfig struct {
	URL          string   `yaml:"url"`
	Model        string   `yaml:"model"`
	APIKeyEnv    string   `yaml:"api_key_env"`
	KnownIntents []string `yaml:"known_intents"`
}

type HandleConfig struct {
	URL string `yaml:"url"`
}

type TTSConfig struct {
	Provider string `yaml:"provider"`
	Voice    string `yaml:"voice"`
}

type AudioConfig struct {
	// Backend selects the audio device backend, miniaudio or portaudio.
	Backend string `yaml:"backend"`
	// BufferSize is the PortAudio buffer size in samples.
	BufferSize int `yaml:"buffer_size"`
}

// Load reads configuration.yaml from dir and fills in defaults.
func Load(dir string) (*Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	for name, pipeline := range config.Pipelines {
		pipeline.applyDefaults()
		config.Pipelines[name] = pipeline
	}

	return &config, nil
}

// Pipeline returns the named pipeline, or an error naming the ones that do
// exist.
func (c *Config) Pipeline(name string) (*Pipeline, error) {
	pipeline, ok := c.Pipelines[name]
	if !ok {
		known := make([]string, 0, len(c.Pipelines))
		for name := range c.Pipelines {
			known = append(known, name)
		}
		return nil, fmt.Errorf("no pipeline named %q (have %v)", name, known)
	}
	return &pipeline, nil
}

func (p *Pipeline) applyDefaults() {
	if p.ASR.Provider == "" {
		p.ASR.Provider = "deepgram"
	}
	if p.TTS.Provider == "" {
		p.TTS.Provider = "deepgram"
	}
	if p.Audio.Backend == "" {
		p.Audio.Backend = "miniaudio"
	}
	if p.Audio.BufferSize == 0 {
		p.Audio.BufferSize = 1024
	}
	if p.Intent.APIKeyEnv == "" {
		p.Intent.APIKeyEnv = "GROQ_API_KEY"
	}
}
