// Package storage joins an audio blob store and a segment store into the single
// storage capability the transcription engine takes.
package storage

import (
	"fmt"

	"consultscribe/internal/domain"
	"consultscribe/internal/ports"
)

type composite struct {
	ports.AudioStore
	ports.SegmentStore
}

// Compose pairs an audio store with a segment store.
func Compose(audio ports.AudioStore, segments ports.SegmentStore) ports.SegmentStorage {
	return composite{AudioStore: audio, SegmentStore: segments}
}

// ConsultationNotFound is the error repositories return when a mutation targets an unknown id.
func ConsultationNotFound(id string) error {
	return domain.NewError(domain.ErrorKindNotFound, fmt.Sprintf("Consultation with id %s not found", id))
}
