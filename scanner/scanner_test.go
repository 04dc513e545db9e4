package scanner

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fixedScript() map[int]scriptedReply {
	script := map[int]scriptedReply{
		22:   {flags: flagsSynAck},
		80:   {flags: flagsSynAck},
		443:  {flags: flagsSynAck, delay: 5 * time.Millisecond},
		3306: {flags: flagRST | flagACK},
		8081: {flags: flagsSynAck},
		9000: {flags: flagsSynAck, delay: time.Second}, // late
	}
	for p := 1000; p < 1040; p++ {
		if p%7 == 0 {
			script[p] = scriptedReply{flags: flagsSynAck}
		} else if p%3 == 0 {
			script[p] = scriptedReply{flags: flagRST}
		}
	}
	return script
}

func TestScanConcurrencyInvariance(t *testing.T) {
	ports := ParsePortSpec("22,80,443,3306,8081,9000,1000-1039")

	var baseline *ScanReport
	for _, workers := range []int{1, 4, 64} {
		engine, _ := newTestEngine(fixedScript(), 10*time.Millisecond)
		report := NewScanner(engine, workers).Scan(context.Background(), testTarget, ports)

		if report.Cancelled {
			t.Fatalf("workers=%d: unexpected cancellation", workers)
		}
		if len(report.Results) != len(ports) {
			t.Fatalf("workers=%d: got %d results, want %d", workers, len(report.Results), len(ports))
		}
		for i, res := range report.Results {
			if res.Port != ports[i] {
				t.Fatalf("workers=%d: result %d is port %d, want %d", workers, i, res.Port, ports[i])
			}
		}

		if baseline == nil {
			baseline = report
			continue
		}
		if !reflect.DeepEqual(report.Open(), baseline.Open()) {
			t.Fatalf("workers=%d: open ports %v differ from %v", workers, report.Open(), baseline.Open())
		}
		for i := range report.Results {
			if report.Results[i].State != baseline.Results[i].State {
				t.Fatalf("workers=%d: port %d state %s, baseline %s",
					workers, report.Results[i].Port, report.Results[i].State, baseline.Results[i].State)
			}
		}
	}

	want := []PortService{
		{22, "ssh"}, {80, "http"}, {443, "https"}, {8081, "8081"},
		{1001, "1001"}, {1008, "1008"}, {1015, "1015"}, {1022, "1022"}, {1029, "1029"}, {1036, "1036"},
	}
	if got := baseline.Open(); !reflect.DeepEqual(got, want) {
		t.Fatalf("open = %v, want %v", got, want)
	}
}

func TestScanPartialFailure(t *testing.T) {
	ports := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	script := map[int]scriptedReply{}
	for _, p := range ports {
		script[p] = scriptedReply{flags: flagsSynAck}
	}
	script[5] = scriptedReply{sendErr: errors.New("simulated transport error")}

	engine, _ := newTestEngine(script, 10*time.Millisecond)
	report := NewScanner(engine, 3).Scan(context.Background(), testTarget, ports)

	if len(report.Results) != len(ports) {
		t.Fatalf("got %d results, want %d", len(report.Results), len(ports))
	}
	if got := report.Count(StateOpen); got != 9 {
		t.Fatalf("open = %d, want 9", got)
	}
	failed := report.Results[4]
	if failed.Port != 5 || failed.State != StateFiltered || failed.Error == "" {
		t.Fatalf("failed probe = %+v", failed)
	}
}

// cancellingProber cancels the scan when its k-th probe runs.
type cancellingProber struct {
	k      int32
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (p *cancellingProber) Probe(ctx context.Context, target net.IP, port int) ProbeResult {
	if p.calls.Add(1) == p.k {
		p.cancel()
	}
	return ProbeResult{Port: port, State: StateOpen, Service: "x"}
}

func TestScanCancellation(t *testing.T) {
	ports := ParsePortSpec("1-100")

	for _, workers := range []int{1, 8} {
		ctx, cancel := context.WithCancel(context.Background())
		prober := &cancellingProber{k: 5, cancel: cancel}

		report := NewScanner(prober, workers).Scan(ctx, testTarget, ports)
		cancel()

		calls := int(prober.calls.Load())
		if len(report.Results) != calls {
			t.Fatalf("workers=%d: %d results for %d dispatched probes", workers, len(report.Results), calls)
		}
		if len(report.Results) >= len(ports) {
			t.Fatalf("workers=%d: scan was not cut short", workers)
		}
		if workers == 1 && len(report.Results) != 5 {
			t.Fatalf("workers=1: got %d results, want 5", len(report.Results))
		}
		if !report.Cancelled {
			t.Fatalf("workers=%d: report not marked cancelled", workers)
		}
	}
}

func TestScanAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine, transport := newTestEngine(fixedScript(), 10*time.Millisecond)

	report := NewScanner(engine, 4).Scan(ctx, testTarget, []int{22, 80})
	if len(report.Results) != 0 || !report.Cancelled {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(transport.sentPorts()) != 0 {
		t.Fatal("no probe should be sent after cancellation")
	}
}

// blockingProber holds every probe until released, recording peak concurrency.
type blockingProber struct {
	mu      sync.Mutex
	running int
	peak    int
	release chan struct{}
}

func (p *blockingProber) Probe(ctx context.Context, target net.IP, port int) ProbeResult {
	p.mu.Lock()
	p.running++
	if p.running > p.peak {
		p.peak = p.running
	}
	p.mu.Unlock()

	<-p.release

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	return ProbeResult{Port: port, State: StateClosed}
}

func TestScanBoundsConcurrency(t *testing.T) {
	prober := &blockingProber{release: make(chan struct{})}
	done := make(chan *ScanReport)
	go func() {
		done <- NewScanner(prober, 3).Scan(context.Background(), testTarget, ParsePortSpec("1-20"))
	}()

	time.Sleep(50 * time.Millisecond)
	close(prober.release)
	report := <-done

	if prober.peak > 3 {
		t.Fatalf("peak concurrency %d exceeds 3 workers", prober.peak)
	}
	if len(report.Results) != 20 {
		t.Fatalf("got %d results", len(report.Results))
	}
}

func TestResolveTarget(t *testing.T) {
	orig := LookupIPFunc
	t.Cleanup(func() { LookupIPFunc = orig })

	ip, err := ResolveTarget("1.2.3.4")
	if err != nil || ip.String() != "1.2.3.4" {
		t.Fatalf("ResolveTarget literal = %v, %v", ip, err)
	}

	if _, err := ResolveTarget("::1"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget for IPv6, got %v", err)
	}
	if _, err := ResolveTarget(""); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget for empty target, got %v", err)
	}

	LookupIPFunc = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("2001:db8::1"), net.IPv4(198, 51, 100, 7)}, nil
	}
	ip, err = ResolveTarget("example.test")
	if err != nil || ip.String() != "198.51.100.7" {
		t.Fatalf("ResolveTarget host = %v, %v", ip, err)
	}

	LookupIPFunc = func(host string) ([]net.IP, error) {
		return nil, errors.New("no such host")
	}
	if _, err := ResolveTarget("missing.test"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestResolveTargetErrorsAreSingleLine(t *testing.T) {
	orig := LookupIPFunc
	t.Cleanup(func() { LookupIPFunc = orig })

	cases := []struct {
		name   string
		target string
		lookup func(string) ([]net.IP, error)
	}{
		{"ipv6 literal", "2001:db8::1", nil},
		{"lookup failure", "missing.test", func(string) ([]net.IP, error) { return nil, errors.New("no such host") }},
		{"ipv6 only host", "v6only.test", func(string) ([]net.IP, error) { return []net.IP{net.ParseIP("2001:db8::2")}, nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			LookupIPFunc = tc.lookup
			_, err := ResolveTarget(tc.target)
			if !errors.Is(err, ErrInvalidTarget) {
				t.Fatalf("err = %v, want ErrInvalidTarget", err)
			}
			if strings.Contains(err.Error(), "\n") {
				t.Fatalf("error spans several lines: %q", err.Error())
			}
		})
	}
}
