package scanner

import (
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535
)

// ParsePortSpec turns a comma-separated list of ports and inclusive ranges
// (e.g. "22,80,8000-8100") into the ordered list of distinct ports to probe.
//
// Parsing is lenient: tokens that are neither all digits nor "a-b" ranges are
// dropped, a range whose start exceeds its end contributes nothing, and ports
// outside 1-65535 are skipped. Ports keep the order of their first appearance.
func ParsePortSpec(spec string) []int {
	ports := make([]int, 0)
	seen := make(map[int]struct{})
	add := func(p int) {
		if p < minPort || p > maxPort {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		ports = append(ports, p)
	}

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		switch {
		case token == "":
			continue
		case isDigits(token):
			if p, err := strconv.Atoi(token); err == nil {
				add(p)
			}
		case strings.Contains(token, "-"):
			left, right, _ := strings.Cut(token, "-")
			start, err := strconv.Atoi(strings.TrimSpace(left))
			if err != nil {
				continue
			}
			end, err := strconv.Atoi(strings.TrimSpace(right))
			if err != nil {
				continue
			}
			if start < minPort {
				start = minPort
			}
			if end > maxPort {
				end = maxPort
			}
			for p := start; p <= end; p++ {
				add(p)
			}
		}
	}
	return ports
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
