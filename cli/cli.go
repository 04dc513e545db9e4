package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"synscope/config"
	"synscope/geo"
	"synscope/logging"
	"synscope/report"
	"synscope/scanner"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitPrivilege = 3
	ExitFailure   = 4
)

var (
	// openTransport and newLookup are swapped out by tests.
	openTransport = func(kind string) (scanner.PacketTransport, error) {
		return scanner.OpenTransport(kind)
	}
	newLookup = func(baseURL string) geo.Lookup {
		return geo.NewClient(baseURL, nil)
	}
)

type options struct {
	timeoutSeconds float64
	workers        int
	info           bool
	json           bool
	save           bool
	outDir         string
	all            bool
	capture        string
	servicesFile   string
	target         string
	ports          string
}

// Run is the main entry point for the CLI application.
// It parses command-line flags and arguments, validates them,
// and orchestrates the scan and host lookup. It returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUsage
	}
	logging.Configure(stderr, cfg.LogLevel)

	opts, err := parseArgs(args, cfg, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, cfg, opts, stdout, stderr)
}

func parseArgs(args []string, cfg *config.Config, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("synscope", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Float64Var(&opts.timeoutSeconds, "t", cfg.ScanTimeout.Seconds(), "Per-probe timeout in seconds (0-100)")
	fs.IntVar(&opts.workers, "c", cfg.ScanWorkers, "Number of concurrent probes")
	fs.BoolVar(&opts.info, "info", false, "Look up country, region, city and organization of the target")
	fs.BoolVar(&opts.json, "json", false, "Output results in JSON format")
	fs.BoolVar(&opts.save, "save", false, "Save host_info_<ip>.txt / port_info_<ip>.txt")
	fs.StringVar(&opts.outDir, "o", ".", "Directory for saved files")
	fs.BoolVar(&opts.all, "all", false, "Show closed and filtered ports too")
	fs.StringVar(&opts.capture, "capture", cfg.Capture, "Reply capture backend: raw or pcap")
	fs.StringVar(&opts.servicesFile, "services", cfg.ServicesFile, "Extra /etc/services style file for service names")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	switch {
	case len(rest) == 1 && opts.info:
		opts.target = rest[0]
	case len(rest) == 2:
		opts.target, opts.ports = rest[0], rest[1]
	default:
		fs.Usage()
		return nil, errors.New("expected a target and a port specification")
	}

	if _, err := config.TimeoutFromSeconds(opts.timeoutSeconds); err != nil {
		return nil, err
	}
	if opts.workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", opts.workers)
	}
	return opts, nil
}

// printUsage displays the help message.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: synscope [flags] target [ports]")
	fmt.Fprintln(w, "       synscope serve")
	fmt.Fprintln(w, "Example: sudo synscope 192.0.2.10 22,80,443,8000-8100")
	fmt.Fprintln(w, "Example: sudo synscope -t 0.5 -c 100 --info --save 192.0.2.10 1-1024")
	fmt.Fprintln(w, "Example: synscope --info 192.0.2.10")
	fs.PrintDefaults()
}

type output struct {
	Target   string                `json:"target"`
	HostInfo *geo.HostInfo         `json:"host_info,omitempty"`
	Report   *scanner.ScanReport   `json:"report,omitempty"`
	Open     []scanner.PortService `json:"open,omitempty"`
	Errors   []string              `json:"errors,omitempty"`
}

func execute(ctx context.Context, cfg *config.Config, opts *options, stdout, stderr io.Writer) int {
	logger := logging.Logger()

	target, err := scanner.ResolveTarget(opts.target)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUsage
	}

	var ports []int
	if opts.ports != "" {
		ports = scanner.ParsePortSpec(opts.ports)
		if len(ports) == 0 {
			fmt.Fprintf(stderr, "Error: %v in %q\n", scanner.ErrNoPorts, opts.ports)
			return ExitUsage
		}
	}

	var prober *scanner.Engine
	if len(ports) > 0 {
		services, err := scanner.LoadServiceTable(opts.servicesFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitUsage
		}

		transport, err := openTransport(opts.capture)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			if errors.Is(err, scanner.ErrPrivilege) {
				fmt.Fprintln(stderr, "SYN scan requires elevated privileges. Try: sudo synscope ... or grant CAP_NET_RAW.")
				return ExitPrivilege
			}
			return ExitFailure
		}
		defer transport.Close()

		timeout, _ := config.TimeoutFromSeconds(opts.timeoutSeconds)
		prober = scanner.NewEngine(transport, services, timeout)
	}

	out := output{Target: target.String()}
	var lookupErr error

	var g errgroup.Group
	if opts.info {
		g.Go(func() error {
			info, err := newLookup(cfg.GeoAPIURL).Lookup(ctx, target.String())
			if err != nil {
				lookupErr = err
				return nil
			}
			out.HostInfo = info
			return nil
		})
	}
	if prober != nil {
		g.Go(func() error {
			out.Report = scanner.NewScanner(prober, opts.workers).Scan(ctx, target, ports)
			out.Open = out.Report.Open()
			return nil
		})
	}
	_ = g.Wait()

	if lookupErr != nil {
		logger.Warn("host info lookup failed", "target", out.Target, "error", lookupErr)
		out.Errors = append(out.Errors, fmt.Sprintf("host info: %v", lookupErr))
	}

	if opts.json {
		if err := outputJSON(stdout, out); err != nil {
			fmt.Fprintf(stderr, "Error encoding to JSON: %v\n", err)
			return ExitFailure
		}
	} else {
		outputPlainText(stdout, out, opts.all)
		if lookupErr != nil {
			fmt.Fprintf(stderr, "Error: host info lookup failed: %v\n", lookupErr)
		}
	}

	if opts.save {
		if out.HostInfo != nil {
			path, err := report.SaveHostInfo(opts.outDir, out.Target, out.HostInfo)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return ExitFailure
			}
			logger.Info("host info saved", "path", path)
		}
		if out.Report != nil {
			path, err := report.SavePortInfo(opts.outDir, out.Report)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return ExitFailure
			}
			logger.Info("port info saved", "path", path)
		}
	}

	if lookupErr != nil {
		return ExitFailure
	}
	return ExitOK
}

// outputJSON marshals and prints results in JSON format.
func outputJSON(w io.Writer, out output) error {
	jsonData, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// outputPlainText prints the host summary and the open ports, or the full
// result table when all is set.
func outputPlainText(w io.Writer, out output, all bool) {
	if out.HostInfo != nil {
		fmt.Fprintf(w, "Host info for %s\n", out.Target)
		fmt.Fprint(w, report.FormatHostInfo(out.HostInfo))
		fmt.Fprintln(w)
	}
	if out.Report == nil {
		return
	}

	r := out.Report
	if all {
		report.PrintTable(r, w)
	} else {
		fmt.Fprint(w, report.FormatOpenPorts(r))
	}
	fmt.Fprintf(w, "%s: %d open, %d closed, %d filtered of %d ports",
		r.Target, r.Count(scanner.StateOpen), r.Count(scanner.StateClosed), r.Count(scanner.StateFiltered), r.Requested)
	if r.Cancelled {
		fmt.Fprintf(w, " (interrupted after %d)", len(r.Results))
	}
	fmt.Fprintln(w)
}
