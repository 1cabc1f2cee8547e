// Package stt wraps a streaming speech recognizer. One Recognizer serves one
// audio track: push frames in, read interim and final transcript events out.
package stt

import (
	"context"
	"time"
)

type EventType int

const (
	EventInterim EventType = iota
	EventFinal
)

// Event is one recognizer hypothesis. An interim event is a fresh best guess
// that replaces whatever interim came before it; a final event is the settled
// text for the utterance and the only kind eligible for translation.
type Event struct {
	Type       EventType
	Text       string
	Start      time.Duration
	Duration   time.Duration
	Confidence float64
}

func (e Event) End() time.Duration {
	return e.Start + e.Duration
}

// Recognizer is a live recognition stream for a single track. Events is
// closed when the stream ends; Err reports why, if the end was a failure.
// A recognizer failure is scoped to its own track.
type Recognizer interface {
	SendAudio(data []byte) error
	Events() <-chan Event
	Err() error
	Stop() error
}

type Service interface {
	Start(ctx context.Context, language string) (Recognizer, error)
}
