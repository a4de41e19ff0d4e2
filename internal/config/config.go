package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// ACE-Step connection (sound generation provider)
	ACEStepAPIURL    string
	ACEStepAPIKey    string
	ACEStepOutputDir string

	// Ollama prompt expansion (optional)
	OllamaURL   string
	OllamaModel string

	// Server
	Port int

	// Engine behavior
	TrailingBuffer   time.Duration // added after the last recorded event
	ProgressInterval time.Duration // loop progress sampling for render sinks
	RepeatPolicy     string        // restart or finish
	PlaybackRate     float64       // global multiplier for sample rate and synth pitch
	LoopsFile        string        // JSON file for durable loops, empty disables
	SamplesDir       string        // audio files loaded into pads at startup

	// Sound generation
	GenerateSeconds int // default requested length, also the request cap
	GenerateWorkers int

	// Control surfaces and outputs
	Speaker      bool   // play the mix on the local sound card
	OSCAddr      string // UDP listen address, empty disables
	MIDIPort     string // substring of the MIDI input port name, empty disables
	MIDIBaseNote int    // note number mapped to the first pad
	TUI          bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		ACEStepAPIURL:    envStr("ACESTEP_API_URL", "http://acestep:8000"),
		ACEStepAPIKey:    envStr("ACESTEP_API_KEY", ""),
		ACEStepOutputDir: envStr("ACESTEP_OUTPUT_DIR", "/acestep-outputs"),

		OllamaURL:   envStr("OLLAMA_URL", ""),
		OllamaModel: envStr("OLLAMA_MODEL", "qwen3:8b"),

		Port: envInt("PADLOOP_PORT", 8080),

		TrailingBuffer:   envMillis("PADLOOP_TRAILING_MS", 1000),
		ProgressInterval: envMillis("PADLOOP_PROGRESS_MS", 50),
		RepeatPolicy:     strings.ToLower(envStr("PADLOOP_REPEAT_POLICY", "restart")),
		PlaybackRate:     envFloat("PADLOOP_PLAYBACK_RATE", 1.0),
		LoopsFile:        envStr("PADLOOP_LOOPS_FILE", ""),
		SamplesDir:       envStr("PADLOOP_SAMPLES_DIR", ""),

		GenerateSeconds: envInt("PADLOOP_GENERATE_SECONDS", 5),
		GenerateWorkers: envInt("PADLOOP_GENERATE_WORKERS", 1),

		Speaker:      envBool("PADLOOP_SPEAKER", false),
		OSCAddr:      envStr("PADLOOP_OSC_ADDR", ""),
		MIDIPort:     envStr("PADLOOP_MIDI_PORT", ""),
		MIDIBaseNote: envInt("PADLOOP_MIDI_BASE_NOTE", 36),
		TUI:          envBool("PADLOOP_TUI", false),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envMillis reads an integer millisecond count.
func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
