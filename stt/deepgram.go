package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	deepgramBaseURL = "wss://api.deepgram.com/v1/listen"
	pingInterval    = 10 * time.Second
	pongTimeout     = 30 * time.Second
)

type DeepgramClient struct {
	token  string
	logger *log.Logger
}

func NewDeepgramClient(token string, logger *log.Logger) (*DeepgramClient, error) {
	if token == "" {
		return nil, fmt.Errorf("deepgram token is empty")
	}
	return &DeepgramClient{token: token, logger: logger}, nil
}

func (c *DeepgramClient) Start(
	ctx context.Context,
	language string,
) (Recognizer, error) {
	params := url.Values{}
	params.Set("model", "nova-2")
	params.Set("language", language)
	params.Set("encoding", "opus")
	params.Set("channels", "2")
	params.Set("sample_rate", "48000")
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	params.Set("interim_results", "true")
	params.Set("vad_events", "true")

	header := http.Header{}
	header.Set("Authorization", "Token "+c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(
		ctx,
		deepgramBaseURL+"?"+params.Encode(),
		header,
	)
	if err != nil {
		return nil, fmt.Errorf("error connecting to deepgram: %w", err)
	}

	session := &deepgramSession{
		conn:        conn,
		logger:      c.logger,
		events:      make(chan Event),
		audioBuffer: make(chan []byte, 100),
		done:        make(chan struct{}),
	}

	c.logger.Info("open", "kind", "deepgram", "language", language)

	go session.writePump(ctx)
	go session.readPump()

	return session, nil
}

type deepgramSession struct {
	conn        *websocket.Conn
	logger      *log.Logger
	events      chan Event
	audioBuffer chan []byte
	done        chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

// deepgramResult is the subset of Deepgram's live result message the
// adapter cares about.
type deepgramResult struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramSession) SendAudio(data []byte) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return fmt.Errorf("recognizer stopped")
	}

	select {
	case s.audioBuffer <- data:
		return nil
	default:
		return fmt.Errorf("audio buffer full")
	}
}

func (s *deepgramSession) Events() <-chan Event {
	return s.events
}

func (s *deepgramSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *deepgramSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	// WriteControl is safe alongside the write pump; close frames never
	// go through WriteMessage here.
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil && err != websocket.ErrCloseSent {
		s.conn.Close()
		return fmt.Errorf("failed to send close message: %w", err)
	}
	return s.conn.Close()
}

func (s *deepgramSession) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(pongTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				s.logger.Error("failed to send ping", "error", err)
				return
			}
		case data := <-s.audioBuffer:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.logger.Error("failed to write audio data", "error", err)
				return
			}
		}
	}
}

func (s *deepgramSession) readPump() {
	defer close(s.events)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			if !stopped {
				s.err = fmt.Errorf("deepgram stream: %w", err)
			}
			s.mu.Unlock()
			if !stopped {
				s.logger.Error("recognition stream failed", "error", err)
			}
			return
		}

		var result deepgramResult
		if err := json.Unmarshal(payload, &result); err != nil {
			s.logger.Warn("unhandled event", "data", string(payload))
			continue
		}

		event, ok := decodeResult(result)
		if !ok {
			continue
		}

		if event.Type == EventFinal {
			s.logger.Info("hear", "txt", event.Text, "start", event.Start)
		} else {
			s.logger.Debug("hear", "tmp", event.Text)
		}

		s.events <- event
	}
}

func decodeResult(result deepgramResult) (Event, bool) {
	if result.Type != "Results" || len(result.Channel.Alternatives) == 0 {
		return Event{}, false
	}

	transcript := strings.TrimSpace(result.Channel.Alternatives[0].Transcript)
	if transcript == "" {
		return Event{}, false
	}

	kind := EventInterim
	if result.IsFinal {
		kind = EventFinal
	}

	return Event{
		Type:       kind,
		Text:       transcript,
		Start:      time.Duration(result.Start * float64(time.Second)),
		Duration:   time.Duration(result.Duration * float64(time.Second)),
		Confidence: result.Channel.Alternatives[0].Confidence,
	}, true
}
