package scanner

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"synscope/logging"
)

// PcapTransport captures replies with libpcap, one handle and BPF filter per
// listener, and sends SYNs through a RawTransport. It is useful where raw
// sockets do not see inbound segments (e.g. some BSDs).
type PcapTransport struct {
	sender *RawTransport

	mu      sync.Mutex
	devices map[string]string // local IP -> pcap device name
}

// NewPcapTransport validates pcap access and opens the raw send socket.
func NewPcapTransport() (*PcapTransport, error) {
	if err := InitPcap(); err != nil {
		return nil, err
	}
	sender, err := NewRawTransport()
	if err != nil {
		return nil, err
	}
	return &PcapTransport{sender: sender, devices: make(map[string]string)}, nil
}

// InitPcap checks that libpcap is usable and that at least one capture
// device is visible to this process.
func InitPcap() error {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return wrapPrivilege(fmt.Errorf("list capture devices: %w", err))
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no capture devices visible", ErrPrivilege)
	}
	return nil
}

// LocalAddr returns the source address used to reach dst.
func (t *PcapTransport) LocalAddr(dst net.IP) (net.IP, error) {
	return localIPFor(dst)
}

// Send delegates to the raw socket.
func (t *PcapTransport) Send(dst net.IP, packet []byte) error {
	return t.sender.Send(dst, packet)
}

// Listen opens a capture handle on the device owning the local address and
// filters it down to replies for one probe.
func (t *PcapTransport) Listen(src net.IP, srcPort, dstPort uint16) (Listener, error) {
	local, err := localIPFor(src)
	if err != nil {
		return nil, err
	}
	device, err := t.deviceFor(local)
	if err != nil {
		return nil, err
	}

	handle, err := pcap.OpenLive(device, 256, false, 50*time.Millisecond)
	if err != nil {
		return nil, wrapPrivilege(fmt.Errorf("open capture on %s: %w", device, err))
	}
	filter := fmt.Sprintf("tcp and src host %s and src port %d and dst host %s and dst port %d",
		src.String(), srcPort, local.String(), dstPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set bpf filter %q: %w", filter, err)
	}

	l := &pcapListener{handle: handle, ch: make(chan CapturedPacket, 4), done: make(chan struct{})}
	go l.run()
	return l, nil
}

// Close releases the send socket. Listeners own their capture handles.
func (t *PcapTransport) Close() error {
	return t.sender.Close()
}

func (t *PcapTransport) deviceFor(local net.IP) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name, ok := t.devices[local.String()]; ok {
		return name, nil
	}

	devices, err := pcap.FindAllDevs()
	if err != nil {
		return "", wrapPrivilege(fmt.Errorf("list capture devices: %w", err))
	}
	for _, d := range devices {
		for _, addr := range d.Addresses {
			if addr.IP.Equal(local) {
				t.devices[local.String()] = d.Name
				return d.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no capture device owns %s", local)
}

type pcapListener struct {
	handle *pcap.Handle
	ch     chan CapturedPacket
	done   chan struct{}
	once   sync.Once
}

func (l *pcapListener) run() {
	defer close(l.ch)
	source := gopacket.NewPacketSource(l.handle, l.handle.LinkType())
	packets := source.Packets()
	for {
		select {
		case <-l.done:
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			ipLayer, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
			if !ok {
				continue
			}
			captured := packet.Metadata().Timestamp
			if captured.IsZero() {
				captured = time.Now()
			}
			segment := append([]byte(nil), ipLayer.Payload...)
			select {
			case l.ch <- CapturedPacket{Segment: segment, Timestamp: captured}:
			case <-l.done:
				return
			default:
				logging.Logger().Debug("pcap listener dropped reply")
			}
		}
	}
}

func (l *pcapListener) Packets() <-chan CapturedPacket {
	return l.ch
}

func (l *pcapListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.handle.Close()
	})
	return nil
}
