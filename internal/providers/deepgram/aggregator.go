package deepgram

import (
	"strings"
	"sync"

	"consultscribe/internal/domain"
)

// transcriptAggregator joins final results. When a trailing partial says more than the
// finals do, it is appended so a stream cut short still yields its last words.
type transcriptAggregator struct {
	mu        sync.Mutex
	finals    []string
	lastHeard string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastHeard = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
	}
}

func (a *transcriptAggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	switch {
	case joined == "":
		return a.lastHeard
	case a.lastHeard == "", strings.HasSuffix(joined, a.lastHeard):
		return joined
	case len(a.lastHeard) > len(joined):
		return joined + " " + a.lastHeard
	default:
		return joined
	}
}
