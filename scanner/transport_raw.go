package scanner

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"synscope/logging"
)

// RawTransport sends header-included IPv4 datagrams over a raw ip4:tcp
// socket and reads replies from the same socket. A single reader goroutine
// hands each inbound segment to the listener registered for its
// (source address, source port, destination port).
type RawTransport struct {
	conn *ipv4.RawConn

	mu        sync.Mutex
	listeners map[listenerKey]*rawListener
	closed    bool
	done      chan struct{}
}

// NewRawTransport opens the raw socket. It fails with ErrPrivilege when the
// process lacks CAP_NET_RAW.
func NewRawTransport() (*RawTransport, error) {
	c, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		return nil, wrapPrivilege(fmt.Errorf("open raw socket: %w", err))
	}
	conn, err := ipv4.NewRawConn(c)
	if err != nil {
		_ = c.Close()
		return nil, wrapPrivilege(fmt.Errorf("enable IP_HDRINCL: %w", err))
	}

	t := newRawTransport(conn)
	go t.readLoop()
	return t, nil
}

func newRawTransport(conn *ipv4.RawConn) *RawTransport {
	return &RawTransport{
		conn:      conn,
		listeners: make(map[listenerKey]*rawListener),
		done:      make(chan struct{}),
	}
}

// LocalAddr returns the source address used to reach dst.
func (t *RawTransport) LocalAddr(dst net.IP) (net.IP, error) {
	return localIPFor(dst)
}

// Listen registers interest in segments from src:srcPort to local dstPort.
func (t *RawTransport) Listen(src net.IP, srcPort, dstPort uint16) (Listener, error) {
	key := newListenerKey(src, srcPort, dstPort)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if _, exists := t.listeners[key]; exists {
		return nil, fmt.Errorf("listener for %s:%d -> :%d already registered", src, srcPort, dstPort)
	}
	l := &rawListener{transport: t, key: key, ch: make(chan CapturedPacket, 4)}
	t.listeners[key] = l
	return l, nil
}

// Send writes a serialized IPv4 datagram. The header is rebuilt as an
// ipv4.Header so the kernel sees it in the byte order it expects.
func (t *RawTransport) Send(dst net.IP, packet []byte) error {
	ip, payload, err := splitIPv4(packet)
	if err != nil {
		return err
	}
	header := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TOS:      int(ip.TOS),
		TotalLen: ipv4.HeaderLen + len(payload),
		ID:       int(ip.Id),
		Flags:    ipv4.HeaderFlags(ip.Flags),
		TTL:      int(ip.TTL),
		Protocol: int(ip.Protocol),
		Src:      ip.SrcIP,
		Dst:      dst.To4(),
	}
	if err := t.conn.WriteTo(header, payload, nil); err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}

// Close shuts the socket down and closes every open listener.
func (t *RawTransport) Close() error {
	if !t.closeListeners() {
		return nil
	}
	err := t.conn.Close()
	<-t.done
	return err
}

// closeListeners marks the transport closed and closes every registered
// listener. It reports false if the transport was already closed.
func (t *RawTransport) closeListeners() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	for key, l := range t.listeners {
		delete(t.listeners, key)
		close(l.ch)
	}
	return true
}

func (t *RawTransport) readLoop() {
	defer close(t.done)
	logger := logging.Logger()
	buf := make([]byte, 65535)
	for {
		h, p, _, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			logger.Debug("raw transport read failed", "error", err)
			continue
		}
		t.dispatch(h.Src, p, time.Now())
	}
}

// dispatch hands a copy of segment to the listener registered for
// (src, source port, destination port). Segments nobody waits for, and
// segments arriving while the listener's buffer is full, are dropped.
func (t *RawTransport) dispatch(src net.IP, segment []byte, captured time.Time) bool {
	if len(segment) < 4 {
		return false
	}
	key := newListenerKey(src, binary.BigEndian.Uint16(segment[0:2]), binary.BigEndian.Uint16(segment[2:4]))

	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.listeners[key]
	if !ok {
		return false
	}
	select {
	case l.ch <- CapturedPacket{Segment: append([]byte(nil), segment...), Timestamp: captured}:
		return true
	default:
		return false
	}
}

type rawListener struct {
	transport *RawTransport
	key       listenerKey
	ch        chan CapturedPacket
	once      sync.Once
}

func (l *rawListener) Packets() <-chan CapturedPacket {
	return l.ch
}

func (l *rawListener) Close() error {
	l.once.Do(func() {
		t := l.transport
		t.mu.Lock()
		defer t.mu.Unlock()
		if current, ok := t.listeners[l.key]; ok && current == l {
			delete(t.listeners, l.key)
			close(l.ch)
		}
	})
	return nil
}
