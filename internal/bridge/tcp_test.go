package bridge

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/bridgewire"
	"github.com/grapple-robotics/grplcan-go/internal/simhal"
)

func startTCP(t *testing.T, bus *simhal.Backend) (addr string, stop func()) {
	t.Helper()
	srv := NewTCPServer(bus, WithTCPListenAddr("127.0.0.1:0"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listenAddr = ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	// Give the listener a moment to bind.
	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", srv.listenAddr, 10*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv.listenAddr, func() {
		cancel()
		<-done
	}
}

func TestTCPBridgeForwardsBusFrameToClient(t *testing.T) {
	bus := simhal.New()
	addr, stop := startTCP(t, bus)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the session time to open its stream before injecting, so
	// the subscription exists when the frame is broadcast.
	time.Sleep(20 * time.Millisecond)
	bus.Inject(0x123, []byte{1, 2, 3}, 7)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, consumed, ok, err := bridgewire.Codec{}.DecodeTCPStream(buf[:n])
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if consumed != n {
		t.Fatalf("expected to consume whole read, got %d of %d", consumed, n)
	}
	if frame.ID != 0x123 || !bytes.Equal(frame.Data, []byte{1, 2, 3}) {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestTCPBridgeForwardsClientFrameToBus(t *testing.T) {
	bus := simhal.New()
	addr, stop := startTCP(t, bus)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	rec := bridgewire.Codec{}.EncodeTCPRecord(bridgewire.BridgedFrame{ID: 0x456, Data: []byte{9, 9}})
	if _, err := conn.Write(rec); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, fr := range bus.Sent() {
			if fr.ID == 0x456 && bytes.Equal(fr.Data, []byte{9, 9}) {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client frame never reached the bus")
}

func TestTCPBridgeRejectsSecondClientUntilFirstLeaves(t *testing.T) {
	bus := simhal.New()
	addr, stop := startTCP(t, bus)
	defer stop()

	c1, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	dialDone := make(chan net.Conn, 1)
	go func() {
		c2, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			dialDone <- c2
		}
	}()

	select {
	case c2 := <-dialDone:
		// The TCP handshake itself succeeds (it's queued in the accept
		// backlog), but the second connection must not receive any
		// bridge traffic until the first disconnects.
		c2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		buf := make([]byte, 1)
		if _, err := c2.Read(buf); err == nil {
			t.Fatalf("second client should not have been served yet")
		}
		_ = c2.Close()
	case <-time.After(700 * time.Millisecond):
	}
	_ = c1.Close()
}
