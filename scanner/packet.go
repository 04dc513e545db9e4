package scanner

import (
	"fmt"
	"math/rand/v2"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TCP flag bits as they appear in the 13th byte of the header.
const (
	flagFIN uint8 = 0x01
	flagSYN uint8 = 0x02
	flagRST uint8 = 0x04
	flagPSH uint8 = 0x08
	flagACK uint8 = 0x10
	flagURG uint8 = 0x20
	flagECE uint8 = 0x40
	flagCWR uint8 = 0x80

	flagsSynAck = flagSYN | flagACK
)

// Ephemeral source ports used for probes (Linux default local port range).
const (
	ephemeralLow  = 32768
	ephemeralHigh = 61000
)

func ephemeralPort() uint16 {
	return uint16(ephemeralLow + rand.IntN(ephemeralHigh-ephemeralLow))
}

// buildSYN serializes an IPv4 datagram carrying a bare SYN segment from
// src:srcPort to dst:dstPort.
func buildSYN(src, dst net.IP, srcPort, dstPort uint16, seq uint32) ([]byte, error) {
	ipLayer := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       uint16(rand.UintN(1 << 16)),
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src.To4(),
		DstIP:    dst.To4(),
	}

	tcpLayer := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		SYN:     true,
		Window:  1024,
		Options: []layers.TCPOption{{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   []byte{0x05, 0xb4},
		}},
	}

	// TCP checksum covers the IPv4 pseudo-header.
	if err := tcpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
		return nil, fmt.Errorf("set checksum layer: %w", err)
	}

	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buffer, opts, ipLayer, tcpLayer); err != nil {
		return nil, fmt.Errorf("serialize syn: %w", err)
	}
	return buffer.Bytes(), nil
}

// decodeSegment parses a TCP segment and returns its ports and flag byte.
func decodeSegment(segment []byte) (srcPort, dstPort uint16, flags uint8, err error) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(segment, gopacket.NilDecodeFeedback); err != nil {
		return 0, 0, 0, fmt.Errorf("decode tcp segment: %w", err)
	}
	return uint16(tcp.SrcPort), uint16(tcp.DstPort), tcpFlags(&tcp), nil
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	set := func(on bool, bit uint8) {
		if on {
			f |= bit
		}
	}
	set(tcp.FIN, flagFIN)
	set(tcp.SYN, flagSYN)
	set(tcp.RST, flagRST)
	set(tcp.PSH, flagPSH)
	set(tcp.ACK, flagACK)
	set(tcp.URG, flagURG)
	set(tcp.ECE, flagECE)
	set(tcp.CWR, flagCWR)
	return f
}

// classifyFlags maps reply flags to a port state: exactly SYN+ACK is open,
// anything else (RST, RST+ACK, stray combinations) is closed.
func classifyFlags(flags uint8) State {
	if flags == flagsSynAck {
		return StateOpen
	}
	return StateClosed
}

// splitIPv4 decodes the header of a serialized IPv4 datagram and returns it
// with the transport payload.
func splitIPv4(datagram []byte) (*layers.IPv4, []byte, error) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(datagram, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil, fmt.Errorf("decode ipv4 header: %w", err)
	}
	return &ip, ip.Payload, nil
}
