package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"synscope/logging"
)

// State is the classification of a probed port.
type State string

const (
	StateOpen     State = "Open"
	StateClosed   State = "Closed"
	StateFiltered State = "Filtered"
)

var (
	// ErrInvalidTarget is returned for targets that are not usable IPv4 hosts.
	ErrInvalidTarget = errors.New("invalid target: an IPv4 address or resolvable host name is required")
	// ErrNoPorts is returned when a port specification yields nothing to scan.
	ErrNoPorts = errors.New("no valid ports to scan")
)

// ScanJob represents a single port probing task. Index is the position of
// the port in the requested sequence.
type ScanJob struct {
	Index int
	Port  int
}

// ProbeResult represents the outcome of one SYN probe.
type ProbeResult struct {
	Port      int     `json:"port"`
	State     State   `json:"state"`
	Service   string  `json:"service,omitempty"`
	RTTMillis float64 `json:"rtt_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// PortService pairs an open port with its service name.
type PortService struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
}

// ScanReport aggregates the probe results of one scan in the order the ports
// were requested.
type ScanReport struct {
	Target     string        `json:"target"`
	Requested  int           `json:"requested"`
	Results    []ProbeResult `json:"results"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Open returns the open ports with their service names, in scan order.
func (r *ScanReport) Open() []PortService {
	open := make([]PortService, 0)
	for _, res := range r.Results {
		if res.State == StateOpen {
			open = append(open, PortService{Port: res.Port, Service: res.Service})
		}
	}
	return open
}

// Count returns how many results have the given state.
func (r *ScanReport) Count(state State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == state {
			n++
		}
	}
	return n
}

// Prober probes a single port. *Engine is the production implementation.
type Prober interface {
	Probe(ctx context.Context, target net.IP, port int) ProbeResult
}

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 50

// Scanner drives a Prober over a set of ports with bounded concurrency.
type Scanner struct {
	prober  Prober
	workers int
	logger  *slog.Logger
}

// NewScanner creates a coordinator running at most workers probes at once.
func NewScanner(prober Prober, workers int) *Scanner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scanner{prober: prober, workers: workers, logger: logging.Logger()}
}

// Scan probes every port of target and returns the report.
//
// Each result lands in the slot of its port, so the report is identical for
// any worker count. Once ctx is cancelled no further probes are started;
// probes already running finish and the partial report is returned with
// Cancelled set.
func (s *Scanner) Scan(ctx context.Context, target net.IP, ports []int) *ScanReport {
	report := &ScanReport{
		Target:    target.String(),
		Requested: len(ports),
		StartedAt: time.Now().UTC(),
	}

	workerCount := s.workers
	if workerCount > len(ports) {
		workerCount = len(ports)
	}

	slots := make([]*ProbeResult, len(ports))
	jobs := make(chan ScanJob)
	var wg sync.WaitGroup

	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				result := s.prober.Probe(ctx, target, job.Port)
				slots[job.Index] = &result
			}
		}()
	}

dispatch:
	for i, port := range ports {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- ScanJob{Index: i, Port: port}:
		}
	}
	close(jobs)
	wg.Wait()

	report.Results = make([]ProbeResult, 0, len(ports))
	for _, res := range slots {
		if res != nil {
			report.Results = append(report.Results, *res)
		}
	}
	report.Cancelled = len(report.Results) < len(ports)
	report.FinishedAt = time.Now().UTC()

	s.logger.InfoContext(ctx, "scan finished",
		"target", report.Target,
		"requested", report.Requested,
		"probed", len(report.Results),
		"open", report.Count(StateOpen),
		"cancelled", report.Cancelled,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report
}

// LookupIPFunc resolves host names; tests replace it.
var LookupIPFunc = net.LookupIP

// ResolveTarget accepts an IPv4 literal or a host name and returns the IPv4
// address to probe. IPv6 targets are rejected.
func ResolveTarget(target string) (net.IP, error) {
	if target == "" {
		return nil, ErrInvalidTarget
	}
	if ip := net.ParseIP(target); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%w: IPv6 addresses are not supported", ErrInvalidTarget)
	}

	ips, err := LookupIPFunc(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no IPv4 address", ErrInvalidTarget, target)
}
