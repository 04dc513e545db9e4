package scanner

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// scriptedReply describes how the mock network answers a SYN to one port.
type scriptedReply struct {
	flags   uint8         // 0 means no reply
	delay   time.Duration // capture time relative to the send
	sendErr error
}

// mockTransport answers SYNs from a per-port script without touching the
// network. Replies are stamped relative to the fixed clock now.
type mockTransport struct {
	now    func() time.Time
	script map[int]scriptedReply

	mu        sync.Mutex
	listeners map[listenerKey]chan CapturedPacket
	sent      []int
}

func newMockTransport(now func() time.Time, script map[int]scriptedReply) *mockTransport {
	return &mockTransport{
		now:       now,
		script:    script,
		listeners: make(map[listenerKey]chan CapturedPacket),
	}
}

func (m *mockTransport) LocalAddr(dst net.IP) (net.IP, error) {
	return net.IPv4(10, 0, 0, 1).To4(), nil
}

func (m *mockTransport) Listen(src net.IP, srcPort, dstPort uint16) (Listener, error) {
	key := newListenerKey(src, srcPort, dstPort)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listeners[key]; exists {
		return nil, fmt.Errorf("duplicate listener %v", key)
	}
	ch := make(chan CapturedPacket, 1)
	m.listeners[key] = ch
	return &mockListener{transport: m, key: key, ch: ch}, nil
}

func (m *mockTransport) Send(dst net.IP, packet []byte) error {
	ip, payload, err := splitIPv4(packet)
	if err != nil {
		return err
	}
	srcPort, dstPort, flags, err := decodeSegment(payload)
	if err != nil {
		return err
	}
	if flags != flagSYN {
		return fmt.Errorf("expected bare SYN, got flags %#x", flags)
	}

	port := int(dstPort)
	m.mu.Lock()
	m.sent = append(m.sent, port)
	m.mu.Unlock()

	reply := m.script[port]
	if reply.sendErr != nil {
		return reply.sendErr
	}
	if reply.flags == 0 {
		return nil
	}

	segment, err := serializeReply(dstPort, srcPort, reply.flags)
	if err != nil {
		return err
	}

	m.mu.Lock()
	ch := m.listeners[newListenerKey(ip.DstIP, dstPort, srcPort)]
	m.mu.Unlock()
	if ch == nil {
		return errors.New("no listener registered before send")
	}
	ch <- CapturedPacket{Segment: segment, Timestamp: m.now().Add(reply.delay)}
	return nil
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) sentPorts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.sent...)
}

type mockListener struct {
	transport *mockTransport
	key       listenerKey
	ch        chan CapturedPacket
}

func (l *mockListener) Packets() <-chan CapturedPacket { return l.ch }

func (l *mockListener) Close() error {
	l.transport.mu.Lock()
	delete(l.transport.listeners, l.key)
	l.transport.mu.Unlock()
	return nil
}

func serializeReply(srcPort, dstPort uint16, flags uint8) ([]byte, error) {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1,
		Ack:     2,
		Window:  65535,
		FIN:     flags&flagFIN != 0,
		SYN:     flags&flagSYN != 0,
		RST:     flags&flagRST != 0,
		PSH:     flags&flagPSH != 0,
		ACK:     flags&flagACK != 0,
		URG:     flags&flagURG != 0,
		ECE:     flags&flagECE != 0,
		CWR:     flags&flagCWR != 0,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := tcp.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fixedClock returns a clock frozen at a fixed instant.
func fixedClock() func() time.Time {
	t0 := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	return func() time.Time { return t0 }
}

func newTestEngine(script map[int]scriptedReply, timeout time.Duration) (*Engine, *mockTransport) {
	clock := fixedClock()
	transport := newMockTransport(clock, script)
	engine := NewEngine(transport, NewServiceTable(), timeout)
	engine.now = clock
	return engine, transport
}
