package rtpin

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/rtp"
)

func sendPacket(t *testing.T, conn net.Conn, ssrc uint32, seq uint16, payload []byte) {
	t.Helper()
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SSRC:           ssrc,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
			PayloadType:    111,
		},
		Payload: payload,
	}
	raw, err := packet.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal RTP packet: %v", err)
	}
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("failed to send RTP packet: %v", err)
	}
}

func TestDemuxBySSRC(t *testing.T) {
	listener, err := Listen("127.0.0.1:0", time.Minute, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Listen returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	conn, err := net.Dial("udp", listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial listener: %v", err)
	}
	defer conn.Close()

	sendPacket(t, conn, 0xabcd, 1, []byte{0x01})
	sendPacket(t, conn, 0xabcd, 2, []byte{0x02})

	var track Track
	select {
	case track = <-listener.Tracks():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for track announcement")
	}

	if track.ID != "TR_0000abcd" {
		t.Errorf("track ID = %q, want %q", track.ID, "TR_0000abcd")
	}
	if track.Participant != "ssrc-43981" {
		t.Errorf("track participant = %q, want %q", track.Participant, "ssrc-43981")
	}

	want := [][]byte{{0x01}, {0x02}}
	for i, expected := range want {
		select {
		case frame := <-track.Frames:
			if !bytes.Equal(frame, expected) {
				t.Errorf("frame %d = %v, want %v", i, frame, expected)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	// A second SSRC is a second track.
	sendPacket(t, conn, 0x1234, 1, []byte{0x03})
	select {
	case second := <-listener.Tracks():
		if second.ID == track.ID {
			t.Error("second SSRC reused the first track ID")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second track announcement")
	}
}

func TestMalformedPacketIsDropped(t *testing.T) {
	listener, err := Listen("127.0.0.1:0", time.Minute, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Listen returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	conn, err := net.Dial("udp", listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial listener: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x00}); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}
	sendPacket(t, conn, 0x42, 1, []byte{0x0a})

	select {
	case track := <-listener.Tracks():
		select {
		case frame := <-track.Frames:
			if !bytes.Equal(frame, []byte{0x0a}) {
				t.Errorf("frame = %v, want [10]", frame)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame after garbage packet")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener stopped announcing tracks after a garbage packet")
	}
}
