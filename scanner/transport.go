package scanner

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

var (
	// ErrPrivilege indicates the process may not open raw sockets or capture
	// devices. SYN scanning needs root or CAP_NET_RAW.
	ErrPrivilege = errors.New("raw socket access denied: SYN scan requires root/CAP_NET_RAW")
	// ErrTransportClosed is returned by operations on a closed transport.
	ErrTransportClosed = errors.New("packet transport closed")
)

// CapturedPacket is the TCP segment (header and payload) of a reply together
// with the time it was captured.
type CapturedPacket struct {
	Segment   []byte
	Timestamp time.Time
}

// Listener delivers the replies addressed to a single probe.
type Listener interface {
	Packets() <-chan CapturedPacket
	Close() error
}

// PacketTransport moves raw IPv4 datagrams to the network and hands back the
// TCP segments of the replies.
//
// Listen must be called before the matching Send so that a fast reply is not
// lost; the listener only yields TCP segments sent by src:srcPort to the
// local dstPort.
type PacketTransport interface {
	LocalAddr(dst net.IP) (net.IP, error)
	Listen(src net.IP, srcPort, dstPort uint16) (Listener, error)
	Send(dst net.IP, packet []byte) error
	Close() error
}

// Capture kinds accepted by OpenTransport.
const (
	CaptureRaw  = "raw"
	CapturePcap = "pcap"
)

// OpenTransport opens the transport selected by kind. Permission failures are
// reported as ErrPrivilege so callers can tell the operator what to do.
func OpenTransport(kind string) (PacketTransport, error) {
	switch strings.ToLower(kind) {
	case "", CaptureRaw:
		return NewRawTransport()
	case CapturePcap:
		return NewPcapTransport()
	default:
		return nil, fmt.Errorf("unknown capture kind %q (want %s or %s)", kind, CaptureRaw, CapturePcap)
	}
}

func wrapPrivilege(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrPermission) || strings.Contains(err.Error(), "operation not permitted") ||
		strings.Contains(err.Error(), "permission denied") {
		return fmt.Errorf("%w: %v", ErrPrivilege, err)
	}
	return err
}

// localIPFor returns the source address the kernel would use to reach dst.
// Connecting a UDP socket sends nothing on the wire.
func localIPFor(dst net.IP) (net.IP, error) {
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "9"))
	if err != nil {
		return nil, fmt.Errorf("no route to %s: %w", dst, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return nil, fmt.Errorf("no IPv4 source address for %s", dst)
	}
	return addr.IP.To4(), nil
}

type listenerKey struct {
	src     [4]byte
	srcPort uint16
	dstPort uint16
}

func newListenerKey(src net.IP, srcPort, dstPort uint16) listenerKey {
	var k listenerKey
	copy(k.src[:], src.To4())
	k.srcPort = srcPort
	k.dstPort = dstPort
	return k
}
