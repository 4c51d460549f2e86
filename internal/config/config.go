package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the consultation service.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Blob          BlobConfig
	Audio         AudioConfig
	Transcription TranscriptionConfig
	Engine        EngineConfig
	Rules         RulesConfig
	Summary       SummaryConfig
}

type ServerConfig struct {
	Addr string
	// AllowedOrigins lists the origins that may open the event websocket. Empty means
	// same-origin only; "*" allows any origin.
	AllowedOrigins []string
}

// StorageConfig selects where consultations and segments live. Consultations accept
// memory, sqlite or dynamo; segments accept memory, sqlite or postgres.
type StorageConfig struct {
	Consultations string
	Segments      string
	SQLitePath    string
	PostgresURL   string
	Dynamo        DynamoConfig
}

type DynamoConfig struct {
	Table           string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// BlobConfig selects the audio store: memory, file or http.
type BlobConfig struct {
	Kind    string
	Dir     string
	URL     string
	Token   string
	Timeout time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

// TranscriptionConfig selects the speech-to-text backend: deepgram or whisper.
type TranscriptionConfig struct {
	Backend  string
	Deepgram DeepgramConfig
	Whisper  WhisperConfig
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	ChunkSize   int
}

type WhisperConfig struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Language   string
	Prompt     string
}

type EngineConfig struct {
	SegmentDuration      time.Duration
	MinVolumeThreshold   float64
	ReleaseSlotOnFailure bool
}

type RulesConfig struct {
	Path           string
	IterationLimit int
	Watch          bool
}

type SummaryConfig struct {
	Location *time.Location
}

const (
	defaultSegmentSeconds = 30
	defaultMinVolume      = -60.0
)

// Load resolves configuration from dotenv files, environment variables and defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	if err := loadDotEnv(home); err != nil {
		return Config{}, err
	}

	dataDir := envOrDefault("CONSULTSCRIBE_DATA_DIR", filepath.Join(home, ".local", "share", "consultscribe"))
	defaultRules := filepath.Join(home, ".config", "consultscribe", "vocabulary.rules")
	rulesPath := strings.TrimSpace(os.Getenv("CONSULTSCRIBE_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(defaultRules, filepath.Join(dataDir, "vocabulary.rules"))
	}

	cfg := Config{
		Server: ServerConfig{
			Addr:           envOrDefault("CONSULTSCRIBE_ADDR", ":8080"),
			AllowedOrigins: envList("CONSULTSCRIBE_ALLOWED_ORIGINS"),
		},
		Storage: StorageConfig{
			Consultations: strings.ToLower(envOrDefault("CONSULTSCRIBE_CONSULTATION_STORE", "sqlite")),
			Segments:      strings.ToLower(envOrDefault("CONSULTSCRIBE_SEGMENT_STORE", "sqlite")),
			SQLitePath:    envOrDefault("CONSULTSCRIBE_SQLITE_PATH", filepath.Join(dataDir, "consultscribe.db")),
			PostgresURL: firstNonEmpty(
				os.Getenv("CONSULTSCRIBE_POSTGRES_URL"),
				os.Getenv("DATABASE_URL"),
			),
			Dynamo: DynamoConfig{
				Table:           envOrDefault("CONSULTSCRIBE_DYNAMO_TABLE", "Consultations"),
				Region:          firstNonEmpty(os.Getenv("CONSULTSCRIBE_DYNAMO_REGION"), os.Getenv("AWS_REGION"), "us-east-1"),
				Endpoint:        strings.TrimSpace(os.Getenv("CONSULTSCRIBE_DYNAMO_ENDPOINT")),
				AccessKeyID:     strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
				SecretAccessKey: strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
			},
		},
		Blob: BlobConfig{
			Kind:    strings.ToLower(envOrDefault("CONSULTSCRIBE_AUDIO_STORE", "file")),
			Dir:     envOrDefault("CONSULTSCRIBE_AUDIO_DIR", filepath.Join(dataDir, "audio")),
			URL:     strings.TrimSpace(os.Getenv("CONSULTSCRIBE_AUDIO_UPLOAD_URL")),
			Token:   strings.TrimSpace(os.Getenv("CONSULTSCRIBE_AUDIO_UPLOAD_TOKEN")),
			Timeout: time.Duration(envOrDefaultInt("CONSULTSCRIBE_AUDIO_UPLOAD_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("CONSULTSCRIBE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("CONSULTSCRIBE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("CONSULTSCRIBE_AUDIO_INPUT_DEVICE"),
				os.Getenv("PULSE_SOURCE"),
				"default",
			),
			SampleRate: envOrDefaultInt("CONSULTSCRIBE_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("CONSULTSCRIBE_CHANNELS", 1),
		},
		Transcription: TranscriptionConfig{
			Backend: strings.ToLower(envOrDefault("CONSULTSCRIBE_TRANSCRIPTION_BACKEND", "deepgram")),
			Deepgram: DeepgramConfig{
				APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
				APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
				Model:       envOrDefault("DEEPGRAM_MODEL", "nova-2-medical"),
				Language:    strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
				SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
				ChunkSize:   envOrDefaultInt("CONSULTSCRIBE_AUDIO_CHUNK_SIZE", 8192),
			},
			Whisper: WhisperConfig{
				APIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
				APIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_API_BASE")),
				Model:      envOrDefault("WHISPER_MODEL", "whisper-1"),
				Language:   strings.TrimSpace(os.Getenv("WHISPER_LANGUAGE")),
				Prompt:     strings.TrimSpace(os.Getenv("WHISPER_PROMPT")),
			},
		},
		Engine: EngineConfig{
			SegmentDuration:      time.Duration(envOrDefaultInt("CONSULTSCRIBE_SEGMENT_SECONDS", defaultSegmentSeconds)) * time.Second,
			MinVolumeThreshold:   envOrDefaultFloat("CONSULTSCRIBE_MIN_VOLUME_DB", defaultMinVolume),
			ReleaseSlotOnFailure: envOrDefaultBool("CONSULTSCRIBE_RELEASE_SLOT_ON_FAILURE", false),
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("CONSULTSCRIBE_RULE_ITERATION_LIMIT", 30),
			Watch:          envOrDefaultBool("CONSULTSCRIBE_RULES_WATCH", true),
		},
		Summary: SummaryConfig{
			Location: loadLocation(os.Getenv("CONSULTSCRIBE_TIMEZONE")),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Transcription.Deepgram.ChunkSize < 256 {
		cfg.Transcription.Deepgram.ChunkSize = 8192
	}
	if cfg.Engine.SegmentDuration <= 0 {
		cfg.Engine.SegmentDuration = defaultSegmentSeconds * time.Second
	}
	if cfg.Blob.Timeout <= 0 {
		cfg.Blob.Timeout = 30 * time.Second
	}

	return cfg, nil
}

// loadDotEnv reads CONSULTSCRIBE_ENV, ~/.consultscribe.env and ./.env in that order.
// Variables that are already set win, so earlier files take priority over later ones.
func loadDotEnv(home string) error {
	paths := []string{
		strings.TrimSpace(os.Getenv("CONSULTSCRIBE_ENV")),
		filepath.Join(home, ".consultscribe.env"),
		".env",
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		log.Printf("[config] loaded env from %s", p)
	}
	return nil
}

func loadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("[config] unknown timezone %q, using local time: %v", name, err)
		return time.Local
	}
	return loc
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
