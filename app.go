package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"consultscribe/internal/bootstrap"
	"consultscribe/internal/config"
	"consultscribe/internal/httpapi"
	"consultscribe/internal/mcpserver"
)

const (
	shutdownTimeout = 10 * time.Second
	rulesDebounce   = 250 * time.Millisecond
)

// App is the process root: it owns the service graph and whichever surface is running.
type App struct {
	services bootstrap.Services
	hub      *httpapi.Hub
	bootErr  error
	ready    bool
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		a.bootErr = err
		return err
	}
	a.hub = httpapi.NewHub(cfg.Server.AllowedOrigins...)
	services, err := bootstrap.BuildWithConfig(ctx, cfg, a.hub)
	if err != nil {
		a.bootErr = err
		return err
	}
	a.services = services
	a.ready = true

	info := a.RuntimeInfo()
	keys := make([]string, 0, len(info))
	for key := range info {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		log.Printf("[consultscribe] %s=%s", key, info[key])
	}
	return nil
}

func (a *App) shutdown() {
	if a.hub != nil {
		a.hub.Close()
	}
	if err := a.services.Close(); err != nil {
		log.Printf("[consultscribe] failed to close storage: %v", err)
	}
}

// RuntimeInfo returns non-sensitive configuration for logs.
func (a *App) RuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	model := cfg.Transcription.Deepgram.Model
	if cfg.Transcription.Backend == "whisper" || cfg.Transcription.Backend == "openai" {
		model = cfg.Transcription.Whisper.Model
	}
	return map[string]string{
		"backend":            cfg.Transcription.Backend,
		"model":              model,
		"consultationStore":  cfg.Storage.Consultations,
		"segmentStore":       cfg.Storage.Segments,
		"audioStore":         cfg.Blob.Kind,
		"rulesFile":          cfg.Rules.Path,
		"audioInput":         cfg.Audio.InputDevice,
		"audioInputFormat":   cfg.Audio.InputFormat,
		"segmentDuration":    cfg.Engine.SegmentDuration.String(),
		"minVolumeThreshold": fmt.Sprintf("%.1f dB", cfg.Engine.MinVolumeThreshold),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// watchRules hot-reloads the vocabulary rules until ctx ends.
func (a *App) watchRules(ctx context.Context) {
	if !a.services.Config.Rules.Watch || a.services.Rules == nil || a.services.Rules.Path() == "" {
		return
	}
	go func() {
		if err := a.services.Rules.Watch(ctx, rulesDebounce); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[consultscribe] rules watcher stopped: %v", err)
		}
	}()
}

// serveHTTP runs the HTTP API until ctx ends, then drains in-flight requests.
func (a *App) serveHTTP(ctx context.Context, addr string) error {
	if err := a.requireReady(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(a.services.Guard, a.services.Engine, a.hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[consultscribe] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// serveMCP runs the MCP tool server on stdio.
func (a *App) serveMCP(version string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return mcpserver.ServeStdio(mcpserver.New(version, a.services.Guard, a.services.Engine))
}
