// Package rtpin ingests audio as RTP over UDP and splits it into one frame
// stream per SSRC. Payloads are passed through opaque; codec details belong
// to the recognizer.
package rtpin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/rtp"
)

const (
	maxPacketSize  = 1500
	frameQueueSize = 3 * 1000 / 20 // 3 second audio buffer at 20ms frames
	reapInterval   = 5 * time.Second

	// DefaultIdleTimeout is how long a source can go silent before its
	// track is closed.
	DefaultIdleTimeout = 30 * time.Second
)

// Track is one demuxed RTP source: a stable ID, a participant identity
// derived from the SSRC, and the live frame stream. Frames closes when the
// source goes idle.
type Track struct {
	ID          string
	Participant string
	Frames      <-chan []byte
}

type source struct {
	frames   chan []byte
	lastSeen time.Time
}

type Listener struct {
	conn        *net.UDPConn
	logger      *log.Logger
	idleTimeout time.Duration
	tracks      chan Track

	mu      sync.Mutex
	sources map[uint32]*source
}

func Listen(
	addr string,
	idleTimeout time.Duration,
	logger *log.Logger,
) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve RTP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for RTP: %w", err)
	}

	logger.Info("listening for RTP", "addr", addr)

	return &Listener{
		conn:        conn,
		logger:      logger,
		idleTimeout: idleTimeout,
		tracks:      make(chan Track),
		sources:     make(map[uint32]*source),
	}, nil
}

// Tracks announces each newly seen SSRC exactly once.
func (l *Listener) Tracks() <-chan Track {
	return l.tracks
}

// Addr is the bound UDP address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run reads packets until the context ends or the socket closes. It blocks;
// run it on its own goroutine.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.tracks)

	go l.reapIdle(ctx)
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read RTP packet: %w", err)
		}

		var packet rtp.Packet
		if err := packet.Unmarshal(buf[:n]); err != nil {
			l.logger.Warn("dropping malformed RTP packet", "error", err)
			continue
		}

		l.deliver(ctx, &packet)
	}
}

func (l *Listener) deliver(ctx context.Context, packet *rtp.Packet) {
	l.mu.Lock()
	src, ok := l.sources[packet.SSRC]
	if !ok {
		src = &source{frames: make(chan []byte, frameQueueSize)}
		l.sources[packet.SSRC] = src
	}
	src.lastSeen = time.Now()
	l.mu.Unlock()

	if !ok {
		track := Track{
			ID:          fmt.Sprintf("TR_%08x", packet.SSRC),
			Participant: fmt.Sprintf("ssrc-%d", packet.SSRC),
			Frames:      src.frames,
		}
		l.logger.Info("new audio source", "ssrc", packet.SSRC, "track", track.ID)
		select {
		case l.tracks <- track:
		case <-ctx.Done():
			return
		}
	}

	payload := make([]byte, len(packet.Payload))
	copy(payload, packet.Payload)

	// Re-check under the lock so the reaper cannot close the channel
	// between our lookup and the send.
	l.mu.Lock()
	if cur, alive := l.sources[packet.SSRC]; alive && cur == src {
		select {
		case src.frames <- payload:
		default:
			l.logger.Warn("frame queue full, dropping packet", "ssrc", packet.SSRC)
		}
	}
	l.mu.Unlock()
}

func (l *Listener) reapIdle(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idleTimeout)
			l.mu.Lock()
			for ssrc, src := range l.sources {
				if src.lastSeen.Before(cutoff) {
					close(src.frames)
					delete(l.sources, ssrc)
					l.logger.Info("audio source idle, closing", "ssrc", ssrc)
				}
			}
			l.mu.Unlock()
		}
	}
}
