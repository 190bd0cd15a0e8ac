package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/types"
)

// Mode selects which settings Validate requires.
type Mode int

const (
	// ModeFull transcribes audio and generates a report.
	ModeFull Mode = iota
	// ModeReport generates a report from a saved transcript.
	ModeReport
)

const (
	PolicyGuided = "guided"
	PolicyForced = "forced"
)

type Config struct {
	Transcription TranscriptionConfig `yaml:"transcription"`
	Generation    GenerationConfig    `yaml:"generation"`
	Storage       StorageConfig       `yaml:"storage"`
	Server        ServerConfig        `yaml:"server"`
}

type TranscriptionConfig struct {
	APIKey           string        `yaml:"api_key"`
	BaseURL          string        `yaml:"base_url"`
	MinSpeakers      int           `yaml:"min_speakers"`
	MaxSpeakers      int           `yaml:"max_speakers"`
	LanguagePolicy   string        `yaml:"language_policy"`
	Candidates       []string      `yaml:"language_candidates"`
	FallbackLanguage string        `yaml:"language_fallback"`
	ForcedLanguage   string        `yaml:"language_forced"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	Timeout          time.Duration `yaml:"timeout"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
}

type GenerationConfig struct {
	APIKey          string          `yaml:"api_key"`
	BaseURL         string          `yaml:"base_url"`
	Prompt          types.PromptRef `yaml:"prompt"`
	MaxOutputTokens int             `yaml:"max_output_tokens"`
	HTTPTimeout     time.Duration   `yaml:"http_timeout"`
}

type StorageConfig struct {
	TranscriptDir string `yaml:"transcript_dir"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Transcription: TranscriptionConfig{
			BaseURL:          "https://api.assemblyai.com",
			MinSpeakers:      2,
			MaxSpeakers:      5,
			LanguagePolicy:   PolicyGuided,
			Candidates:       []string{"ca", "es"},
			FallbackLanguage: "es",
			ForcedLanguage:   "es",
			PollInterval:     3 * time.Second,
			Timeout:          10 * time.Minute,
			HTTPTimeout:      60 * time.Second,
		},
		Generation: GenerationConfig{
			BaseURL:         "https://api.openai.com/v1",
			MaxOutputTokens: 16384,
			HTTPTimeout:     5 * time.Minute,
		},
		Storage: StorageConfig{TranscriptDir: "transcriptions"},
		Server:  ServerConfig{Port: "8080"},
	}
}

// Load reads .env, then the optional YAML file, then environment overrides.
// path may be empty; VISITREPORT_CONFIG is used in that case.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // loads .env

	cfg := Default()
	if path == "" {
		path = os.Getenv("VISITREPORT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, failure.Wrap(failure.InvalidConfig, "config", fmt.Errorf("read %s: %w", path, err))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, failure.Wrap(failure.InvalidConfig, "config", fmt.Errorf("parse %s: %w", path, err))
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	t, g := &c.Transcription, &c.Generation

	setString(&t.APIKey, "ASSEMBLYAI_API_KEY")
	setString(&t.BaseURL, "ASSEMBLYAI_BASE_URL")
	setString(&t.LanguagePolicy, "LANGUAGE_POLICY")
	setString(&t.FallbackLanguage, "LANGUAGE_FALLBACK")
	setString(&t.ForcedLanguage, "LANGUAGE_FORCED")
	if v := os.Getenv("LANGUAGE_CANDIDATES"); v != "" {
		t.Candidates = splitList(v)
	}
	setString(&g.APIKey, "OPENAI_API_KEY")
	setString(&g.BaseURL, "OPENAI_BASE_URL")
	setString(&g.Prompt.ID, "OPENAI_PROMPT_ID")
	setString(&g.Prompt.Version, "OPENAI_PROMPT_VERSION")
	setString(&c.Storage.TranscriptDir, "TRANSCRIPTIONS_DIR")
	setString(&c.Server.Port, "PORT")

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"SPEAKERS_MIN", &t.MinSpeakers},
		{"SPEAKERS_MAX", &t.MaxSpeakers},
		{"MAX_OUTPUT_TOKENS", &g.MaxOutputTokens},
	} {
		if err := setInt(f.dst, f.key); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"TRANSCRIPTION_POLL_INTERVAL", &t.PollInterval},
		{"TRANSCRIPTION_TIMEOUT", &t.Timeout},
		{"HTTP_TIMEOUT", &t.HTTPTimeout},
		{"HTTP_TIMEOUT", &g.HTTPTimeout},
	} {
		if err := setDuration(f.dst, f.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that everything needed for mode is present. It never
// touches the network.
func (c *Config) Validate(mode Mode) error {
	var missing []string
	if mode == ModeFull && c.Transcription.APIKey == "" {
		missing = append(missing, "ASSEMBLYAI_API_KEY")
	}
	if c.Generation.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Generation.Prompt.ID == "" {
		missing = append(missing, "OPENAI_PROMPT_ID")
	}
	if len(missing) > 0 {
		return failure.New(failure.InvalidConfig, "config", "missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Generation.MaxOutputTokens <= 0 {
		return failure.New(failure.InvalidConfig, "config", "invalid max_output_tokens: %d", c.Generation.MaxOutputTokens)
	}
	if mode == ModeReport {
		return nil
	}

	t := c.Transcription
	if t.MinSpeakers < 1 || t.MaxSpeakers < 1 || t.MinSpeakers > t.MaxSpeakers {
		return failure.New(failure.InvalidConfig, "config", "invalid speaker range: min=%d max=%d", t.MinSpeakers, t.MaxSpeakers)
	}
	switch t.LanguagePolicy {
	case PolicyGuided:
		if len(t.Candidates) == 0 {
			return failure.New(failure.InvalidConfig, "config", "guided language policy needs at least one candidate language")
		}
		if t.FallbackLanguage == "" {
			return failure.New(failure.InvalidConfig, "config", "guided language policy needs a fallback language")
		}
	case PolicyForced:
		if t.ForcedLanguage == "" {
			return failure.New(failure.InvalidConfig, "config", "forced language policy needs a language")
		}
	default:
		return failure.New(failure.InvalidConfig, "config", "invalid language_policy: %q (must be guided or forced)", t.LanguagePolicy)
	}
	if t.PollInterval <= 0 || t.Timeout <= 0 {
		return failure.New(failure.InvalidConfig, "config", "invalid polling settings: interval=%v timeout=%v", t.PollInterval, t.Timeout)
	}
	return nil
}

// Check reports which settings are present and whether the transcript
// directory is writable.
func (c *Config) Check() map[string]bool {
	return map[string]bool{
		"ASSEMBLYAI_API_KEY":   c.Transcription.APIKey != "",
		"OPENAI_API_KEY":       c.Generation.APIKey != "",
		"OPENAI_PROMPT_ID":     c.Generation.Prompt.ID != "",
		"transcript_dir_write": dirWritable(c.Storage.TranscriptDir),
	}
}

func dirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".check-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(filepath.Clean(name))
	return true
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return failure.New(failure.InvalidConfig, "config", "invalid %s: %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare numbers are seconds
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			return failure.New(failure.InvalidConfig, "config", "invalid %s: %q", key, v)
		}
		d = time.Duration(n) * time.Second
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
