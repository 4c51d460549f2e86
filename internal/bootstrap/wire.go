package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"consultscribe/internal/audio"
	"consultscribe/internal/config"
	"consultscribe/internal/events"
	"consultscribe/internal/ports"
	"consultscribe/internal/providers/deepgram"
	"consultscribe/internal/providers/whisper"
	"consultscribe/internal/rules"
	"consultscribe/internal/storage"
	"consultscribe/internal/storage/blob"
	"consultscribe/internal/storage/dynamo"
	"consultscribe/internal/storage/memory"
	"consultscribe/internal/storage/postgres"
	"consultscribe/internal/storage/sqlite"
	"consultscribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Guard  *usecase.ConsultationGuard
	Engine *usecase.TranscriptionEngine
	Rules  *rules.Engine
	Events *events.Fanout
	Config config.Config

	closers []func() error
}

// Close releases database handles in reverse order of opening.
func (s Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build loads configuration and wires all dependencies for the current runtime.
// Extra sinks receive every state change alongside the log sink.
func Build(ctx context.Context, sinks ...ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(ctx, cfg, sinks...)
}

// BuildWithConfig wires the graph from an already loaded configuration.
func BuildWithConfig(ctx context.Context, cfg config.Config, sinks ...ports.EventSink) (services Services, err error) {
	services.Config = cfg
	defer func() {
		if err != nil {
			services.Close()
			services = Services{}
		}
	}()

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return services, err
	}
	services.Rules = rulesEngine

	repo, segments, err := openStores(ctx, cfg.Storage, &services.closers)
	if err != nil {
		return services, err
	}

	audioStore, err := openAudioStore(cfg.Blob, segments)
	if err != nil {
		return services, err
	}

	backend, err := newBackend(cfg.Transcription)
	if err != nil {
		return services, err
	}

	fanout := events.NewFanout(events.NewLogSink(nil))
	for _, sink := range sinks {
		fanout.Add(sink)
	}
	services.Events = fanout

	recorder := audio.NewRecorder(
		audio.NewFFmpegCapture(cfg.Audio.RecorderCommand),
		backend,
		rulesEngine,
		ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
	)

	segmentDuration := cfg.Engine.SegmentDuration
	minVolume := cfg.Engine.MinVolumeThreshold
	services.Engine = usecase.NewTranscriptionEngine(
		recorder,
		storage.Compose(audioStore, segments),
		fanout,
		usecase.EngineConfig{
			SegmentDuration:      &segmentDuration,
			MinVolumeThreshold:   &minVolume,
			ReleaseSlotOnFailure: cfg.Engine.ReleaseSlotOnFailure,
		},
	)
	services.Guard = usecase.NewConsultationGuard(repo, fanout, usecase.GuardConfig{Location: cfg.Summary.Location})

	return services, nil
}

func openStores(ctx context.Context, cfg config.StorageConfig, closers *[]func() error) (ports.ConsultationRepository, ports.SegmentStore, error) {
	var sqliteStore *sqlite.Store
	openSQLite := func() (*sqlite.Store, error) {
		if sqliteStore != nil {
			return sqliteStore, nil
		}
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, store.Close)
		sqliteStore = store
		return store, nil
	}

	var repo ports.ConsultationRepository
	switch cfg.Consultations {
	case "memory":
		repo = memory.NewConsultationRepository()
	case "sqlite", "":
		store, err := openSQLite()
		if err != nil {
			return nil, nil, err
		}
		repo = store
	case "dynamo", "dynamodb":
		dynamoRepo, err := dynamo.New(ctx, dynamo.Config{
			Table:           cfg.Dynamo.Table,
			Region:          cfg.Dynamo.Region,
			Endpoint:        cfg.Dynamo.Endpoint,
			AccessKeyID:     cfg.Dynamo.AccessKeyID,
			SecretAccessKey: cfg.Dynamo.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := dynamoRepo.EnsureTable(ctx); err != nil {
			return nil, nil, err
		}
		repo = dynamoRepo
	default:
		return nil, nil, fmt.Errorf("unknown consultation store %q", cfg.Consultations)
	}

	var segments ports.SegmentStore
	switch cfg.Segments {
	case "memory":
		segments = memory.NewSegmentStore()
	case "sqlite", "":
		store, err := openSQLite()
		if err != nil {
			return nil, nil, err
		}
		segments = store
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, nil, errors.New("postgres segment store requires CONSULTSCRIBE_POSTGRES_URL")
		}
		store, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, store.Close)
		segments = store
	default:
		return nil, nil, fmt.Errorf("unknown segment store %q", cfg.Segments)
	}

	return repo, segments, nil
}

func openAudioStore(cfg config.BlobConfig, segments ports.SegmentStore) (ports.AudioStore, error) {
	switch cfg.Kind {
	case "memory":
		if store, ok := segments.(*memory.SegmentStore); ok {
			return store, nil
		}
		return memory.NewSegmentStore(), nil
	case "file", "":
		store, err := blob.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "http":
		if cfg.URL == "" {
			return nil, errors.New("http audio store requires CONSULTSCRIBE_AUDIO_UPLOAD_URL")
		}
		return blob.NewHTTPStore(blob.HTTPConfig{BaseURL: cfg.URL, Token: cfg.Token, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unknown audio store %q", cfg.Kind)
	}
}

func newBackend(cfg config.TranscriptionConfig) (ports.TranscriptionBackend, error) {
	switch cfg.Backend {
	case "deepgram", "":
		return deepgram.NewBackend(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
			ChunkSize:   cfg.Deepgram.ChunkSize,
		}), nil
	case "whisper", "openai":
		return whisper.NewBackend(whisper.Config{
			APIKey:     cfg.Whisper.APIKey,
			APIBaseURL: cfg.Whisper.APIBaseURL,
			Model:      cfg.Whisper.Model,
			Language:   cfg.Whisper.Language,
			Prompt:     cfg.Whisper.Prompt,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}
