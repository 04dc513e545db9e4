package scanner

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"synscope/logging"
)

// DefaultTimeout is how long a probe waits for a reply unless told otherwise.
const DefaultTimeout = 100 * time.Millisecond

// Engine performs half-open SYN probes: it sends one SYN per port and infers
// the port state from the first reply, never completing the handshake.
type Engine struct {
	transport PacketTransport
	services  *ServiceTable
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngine creates a probe engine on top of an open transport. A nil
// services table falls back to the embedded well-known ports.
func NewEngine(transport PacketTransport, services *ServiceTable, timeout time.Duration) *Engine {
	if services == nil {
		services = NewServiceTable()
	}
	if timeout < 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		transport: transport,
		services:  services,
		timeout:   timeout,
		now:       time.Now,
		logger:    logging.Logger(),
	}
}

// Timeout returns the per-probe reply timeout.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Probe sends a single SYN to target:port and classifies the outcome:
//   - SYN+ACK within the timeout: Open, annotated with the service name
//   - RST or any other TCP reply within the timeout: Closed
//   - nothing (or only late replies): Filtered
//
// Transport failures never escape; they yield Filtered with Error set.
// A reply counts only if it was captured strictly before sentAt+timeout.
// The context is not used to abort the wait: a probe that has been sent is
// allowed to run to its timeout.
func (e *Engine) Probe(ctx context.Context, target net.IP, port int) ProbeResult {
	result := ProbeResult{Port: port, State: StateFiltered}

	dst := target.To4()
	if dst == nil {
		result.Error = "target is not an IPv4 address"
		return result
	}
	if port < minPort || port > maxPort {
		result.Error = "port out of range"
		return result
	}

	src, err := e.transport.LocalAddr(dst)
	if err != nil {
		return e.failed(ctx, result, "resolve source address", err)
	}

	srcPort := ephemeralPort()
	listener, err := e.transport.Listen(dst, uint16(port), srcPort)
	if err != nil {
		return e.failed(ctx, result, "listen for reply", err)
	}
	defer listener.Close()

	packet, err := buildSYN(src, dst, srcPort, uint16(port), rand.Uint32())
	if err != nil {
		return e.failed(ctx, result, "build syn", err)
	}

	sentAt := e.now()
	if err := e.transport.Send(dst, packet); err != nil {
		return e.failed(ctx, result, "send syn", err)
	}
	deadline := sentAt.Add(e.timeout)

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	for {
		select {
		case reply, ok := <-listener.Packets():
			if !ok {
				result.Error = "listener closed before reply"
				return result
			}
			if !reply.Timestamp.Before(deadline) {
				e.logger.DebugContext(ctx, "late reply ignored", "target", dst.String(), "port", port)
				return result
			}
			from, to, flags, err := decodeSegment(reply.Segment)
			if err != nil || int(from) != port || to != srcPort {
				continue
			}

			result.State = classifyFlags(flags)
			result.RTTMillis = float64(reply.Timestamp.Sub(sentAt)) / float64(time.Millisecond)
			if result.State == StateOpen {
				result.Service = e.services.Name(port)
			}
			e.logger.DebugContext(ctx, "probe reply",
				"target", dst.String(),
				"port", port,
				"flags", flags,
				"state", string(result.State),
			)
			return result

		case <-timer.C:
			return result
		}
	}
}

func (e *Engine) failed(ctx context.Context, result ProbeResult, step string, err error) ProbeResult {
	e.logger.DebugContext(ctx, "probe failed", "port", result.Port, "step", step, "error", err)
	result.State = StateFiltered
	result.Error = step + ": " + err.Error()
	return result
}
