package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"synscope/geo"
	"synscope/scanner"
)

// FormatHostInfo renders host metadata one "Label: value" field per line.
func FormatHostInfo(info *geo.HostInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Country: %s\n", info.Country)
	fmt.Fprintf(&b, "Region: %s\n", info.Region)
	fmt.Fprintf(&b, "City: %s\n", info.City)
	fmt.Fprintf(&b, "Organization: %s\n", info.Organization)
	fmt.Fprintf(&b, "Coordinates: %s,%s\n", formatCoord(info.Latitude), formatCoord(info.Longitude))
	return b.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatOpenPorts renders "port: service" lines for the open ports of a
// report, in scan order.
func FormatOpenPorts(r *scanner.ScanReport) string {
	var b strings.Builder
	for _, ps := range r.Open() {
		fmt.Fprintf(&b, "%d: %s\n", ps.Port, ps.Service)
	}
	return b.String()
}

// PrintTable writes every probe result as an aligned table.
func PrintTable(r *scanner.ScanReport, w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tSTATE\tSERVICE\tINFO")
	for _, res := range r.Results {
		info := res.Error
		if info == "" && res.RTTMillis > 0 {
			info = fmt.Sprintf("rtt=%.2fms", res.RTTMillis)
		}
		fmt.Fprintf(tw, "%d/tcp\t%s\t%s\t%s\n", res.Port, res.State, res.Service, info)
	}
	_ = tw.Flush()
}

// HostInfoFileName is the file host info for ip is saved to.
func HostInfoFileName(ip string) string {
	return fmt.Sprintf("host_info_%s.txt", ip)
}

// PortInfoFileName is the file the open ports of ip are saved to.
func PortInfoFileName(ip string) string {
	return fmt.Sprintf("port_info_%s.txt", ip)
}

// SaveHostInfo writes the host info summary for ip into dir and returns the
// file path.
func SaveHostInfo(dir, ip string, info *geo.HostInfo) (string, error) {
	return save(dir, HostInfoFileName(ip), FormatHostInfo(info))
}

// SavePortInfo writes the open port summary of r into dir and returns the
// file path.
func SavePortInfo(dir string, r *scanner.ScanReport) (string, error) {
	return save(dir, PortInfoFileName(r.Target), FormatOpenPorts(r))
}

func save(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := replaceFile(path, []byte(content)); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}

// replaceFile swaps data in under path by renaming a sibling temp file, so
// readers see either the previous summary or the new one.
func replaceFile(path string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
