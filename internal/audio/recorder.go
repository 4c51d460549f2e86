package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"consultscribe/internal/domain"
	"consultscribe/internal/ports"
)

const (
	bytesPerSample = 2
	readChunkSize  = 4096
)

var (
	errRecordingActive = errors.New("a recording is already in progress")
	errNoRecording     = errors.New("no recording in progress")
)

// Recorder is the engine's audio provider: it captures one segment at a time into memory,
// measures its level and hands it to a transcription backend.
type Recorder struct {
	capture ports.AudioCapture
	backend ports.TranscriptionBackend
	rules   ports.RulesEngine
	cfg     ports.AudioConfig

	mu     sync.Mutex
	active *recording
}

// NewRecorder wires a capture source and a backend. rules may be nil.
func NewRecorder(capture ports.AudioCapture, backend ports.TranscriptionBackend, rules ports.RulesEngine, cfg ports.AudioConfig) *Recorder {
	return &Recorder{capture: capture, backend: backend, rules: rules, cfg: withCaptureDefaults(cfg)}
}

func (r *Recorder) StartRecording(ctx context.Context, cfg ports.TranscriptionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return errRecordingActive
	}

	audioCfg := r.cfg
	audioCfg.MaxDuration = cfg.SegmentDuration

	// Capture outlives the request that started it; StopRecording ends it.
	session, err := r.capture.Start(context.WithoutCancel(ctx), audioCfg)
	if err != nil {
		return err
	}

	limit := 0
	if cfg.SegmentDuration > 0 {
		bytesPerSecond := int64(audioCfg.SampleRate * audioCfg.Channels * bytesPerSample)
		limit = int(int64(cfg.SegmentDuration) * bytesPerSecond / int64(time.Second))
	}
	rec := &recording{session: session, limit: limit, done: make(chan struct{})}
	go rec.pump()
	r.active = rec
	return nil
}

func (r *Recorder) StopRecording(_ context.Context) (domain.Audio, error) {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()

	if rec == nil {
		return domain.Audio{}, errNoRecording
	}

	stopErr := rec.session.Stop()
	<-rec.done

	data, readErr := rec.result()
	if len(data) == 0 {
		if readErr != nil {
			return domain.Audio{}, fmt.Errorf("audio capture failed: %w", readErr)
		}
		if stopErr != nil {
			return domain.Audio{}, fmt.Errorf("failed to stop audio capture: %w", stopErr)
		}
	}
	if stopErr != nil {
		log.Printf("[audio] capture stopped with error after %d bytes: %v", len(data), stopErr)
	}

	return domain.Audio{
		Data:       data,
		Encoding:   "linear16",
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
	}, nil
}

func (r *Recorder) AudioQualityMetrics(_ context.Context, audio domain.Audio) (domain.QualityMetrics, error) {
	return domain.QualityMetrics{VolumeLevel: VolumeLevel(audio.Data)}, nil
}

func (r *Recorder) TranscribeAudio(ctx context.Context, audio domain.Audio, _ ports.TranscriptionConfig) (string, error) {
	if r.backend == nil {
		return "", errors.New("no transcription backend configured")
	}

	text, err := r.backend.Transcribe(ctx, audio)
	if err != nil {
		return "", err
	}
	if r.rules == nil {
		return text, nil
	}
	return r.rules.Apply(text)
}

type recording struct {
	session ports.AudioSession
	limit   int
	done    chan struct{}

	mu      sync.Mutex
	buf     bytes.Buffer
	readErr error
}

// pump drains the session until EOF or until Stop closes the pipe. Bytes past the limit
// are read and dropped so the capture process never blocks on a full pipe.
func (rec *recording) pump() {
	defer close(rec.done)

	chunk := make([]byte, readChunkSize)
	for {
		n, err := rec.session.Read(chunk)
		if n > 0 {
			rec.append(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				rec.mu.Lock()
				rec.readErr = err
				rec.mu.Unlock()
			}
			return
		}
	}
}

func (rec *recording) append(p []byte) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.limit > 0 {
		room := rec.limit - rec.buf.Len()
		if room <= 0 {
			return
		}
		if len(p) > room {
			p = p[:room]
		}
	}
	rec.buf.Write(p)
}

func (rec *recording) result() ([]byte, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]byte, rec.buf.Len())
	copy(out, rec.buf.Bytes())
	return out, rec.readErr
}
