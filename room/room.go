// Package room ties one live session together: per-track recognition,
// publishing of original captions, and fan-out to the translation workers.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"babble.town/caption"
	"babble.town/lang"
	"babble.town/stt"
	"babble.town/translate"
)

// AttributeCaptionsLanguage is the participant attribute that carries a
// caption-language request.
const AttributeCaptionsLanguage = "captions_language"

// Session owns everything scoped to one room: the translator pool, and one
// track binding per subscribed audio track. Nothing here is shared across
// sessions.
type Session struct {
	recognition stt.Service
	publisher   caption.Publisher
	pool        *translate.Pool
	logger      *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	bindings map[string]*trackBinding
}

// trackBinding associates a participant's audio track with the recognizer
// ingesting it. Cancelling its context tears down that track only.
type trackBinding struct {
	participant string
	trackID     string
	recognizer  stt.Recognizer
	cancel      context.CancelFunc
}

func NewSession(
	ctx context.Context,
	recognition stt.Service,
	translator translate.Translator,
	publisher caption.Publisher,
	logger *log.Logger,
) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		recognition: recognition,
		publisher:   publisher,
		pool:        translate.NewPool(ctx, translator, publisher, logger),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		bindings:    make(map[string]*trackBinding),
	}
}

// HandleTrackSubscribed starts transcribing a newly subscribed audio track.
// Frames are opaque; they go straight to the recognizer.
func (s *Session) HandleTrackSubscribed(
	participant, trackID string,
	frames <-chan []byte,
) error {
	s.mu.Lock()
	if _, exists := s.bindings[trackID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	trackCtx, cancel := context.WithCancel(s.ctx)

	recognizer, err := s.recognition.Start(trackCtx, lang.DefaultCode)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start recognition for track %s: %w", trackID, err)
	}

	binding := &trackBinding{
		participant: participant,
		trackID:     trackID,
		recognizer:  recognizer,
		cancel:      cancel,
	}

	s.mu.Lock()
	if _, exists := s.bindings[trackID]; exists {
		// Lost a race with another subscription for the same track; tear
		// down the redundant recognizer and keep the one already bound.
		s.mu.Unlock()
		cancel()
		if err := recognizer.Stop(); err != nil {
			s.logger.Warn("stop redundant recognizer", "track", trackID, "error", err)
		}
		return nil
	}
	s.bindings[trackID] = binding
	s.mu.Unlock()

	s.logger.Info("track subscribed", "track", trackID, "who", participant)

	s.wg.Add(2)
	go s.feedTrack(trackCtx, binding, frames)
	go s.forwardTranscripts(binding)

	return nil
}

// HandleTrackUnsubscribed cancels one track's ingestion. In-flight
// recognition events for it drain or are discarded; other tracks are
// untouched.
func (s *Session) HandleTrackUnsubscribed(trackID string) {
	s.mu.Lock()
	binding, ok := s.bindings[trackID]
	if ok {
		delete(s.bindings, trackID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	binding.cancel()
	if err := binding.recognizer.Stop(); err != nil {
		s.logger.Warn("stop recognizer", "track", trackID, "error", err)
	}
	s.logger.Info("track unsubscribed", "track", trackID)
}

// HandleAttributesChanged is the sole creation path for translators: when a
// participant requests a real, non-default caption language, a worker for it
// is ensured. Anything else is ignored here.
func (s *Session) HandleAttributesChanged(
	participant string,
	attributes map[string]string,
) {
	code, ok := attributes[AttributeCaptionsLanguage]
	if !ok || code == "" {
		return
	}

	s.logger.Info("caption language requested", "who", participant, "code", code)
	s.pool.Ensure(code)
}

// ActiveLanguages reports which translation workers are currently running.
func (s *Session) ActiveLanguages() []string {
	return s.pool.Active()
}

// Close tears the session down: every track binding, then the pool with
// whatever translation jobs were still queued.
func (s *Session) Close() {
	s.mu.Lock()
	bindings := make([]*trackBinding, 0, len(s.bindings))
	for _, b := range s.bindings {
		bindings = append(bindings, b)
	}
	s.bindings = make(map[string]*trackBinding)
	s.mu.Unlock()

	for _, b := range bindings {
		b.cancel()
		if err := b.recognizer.Stop(); err != nil {
			s.logger.Warn("stop recognizer", "track", b.trackID, "error", err)
		}
	}

	s.cancel()
	s.wg.Wait()
	s.pool.Close()
}

func (s *Session) feedTrack(
	ctx context.Context,
	binding *trackBinding,
	frames <-chan []byte,
) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				// Upstream ended the track. Tear down our side of it.
				s.HandleTrackUnsubscribed(binding.trackID)
				return
			}
			if err := binding.recognizer.SendAudio(frame); err != nil {
				s.logger.Error("failed to send audio",
					"track", binding.trackID,
					"error", err,
				)
			}
		}
	}
}

// forwardTranscripts is the fan-out coordinator. It runs inline on the
// track's event stream: each final segment is published synchronously in the
// original language and then dispatched to whichever translators are active
// at that instant, without waiting for any translation to finish.
func (s *Session) forwardTranscripts(binding *trackBinding) {
	defer s.wg.Done()

	for event := range binding.recognizer.Events() {
		if event.Type != stt.EventFinal {
			continue
		}
		s.publishFinal(binding, event)
	}

	if err := binding.recognizer.Err(); err != nil {
		s.logger.Error("recognition ended",
			"track", binding.trackID,
			"error", err,
		)
	}
}

func (s *Session) publishFinal(binding *trackBinding, event stt.Event) {
	segment := caption.Segment{
		ID:          caption.NewSegmentID(),
		Text:        event.Text,
		Language:    lang.DefaultCode,
		TrackID:     binding.trackID,
		Participant: binding.participant,
		IsFinal:     true,
		StartOffset: event.Start,
		EndOffset:   event.End(),
	}

	err := s.publisher.Publish(s.ctx, caption.Caption{
		Participant: binding.participant,
		TrackID:     binding.trackID,
		Segments:    []caption.Segment{segment},
	})
	if err != nil {
		s.logger.Error("publish caption",
			"track", binding.trackID,
			"error", err,
		)
	}

	s.pool.Dispatch(segment)
}
