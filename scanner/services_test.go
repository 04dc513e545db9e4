package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const servicesFixture = `# Network services, Internet style
tcpmux		1/tcp				# TCP port service multiplexer
ssh		22/tcp				# SSH Remote Login Protocol
http		80/tcp		www		# WorldWideWeb HTTP
http		80/udp
domain		53/udp
custom-app	8081/tcp
alt-name	8081/tcp
broken		notaport/tcp
nope		70000/tcp
garbage
`

func TestParseServices(t *testing.T) {
	services, err := ParseServices(strings.NewReader(servicesFixture))
	if err != nil {
		t.Fatalf("ParseServices: %v", err)
	}
	want := map[int]string{1: "tcpmux", 22: "ssh", 80: "http", 8081: "custom-app"}
	if len(services) != len(want) {
		t.Fatalf("got %d entries (%v), want %d", len(services), services, len(want))
	}
	for port, name := range want {
		if services[port] != name {
			t.Errorf("port %d = %q, want %q", port, services[port], name)
		}
	}
	if _, ok := services[53]; ok {
		t.Error("udp-only entry should be skipped")
	}
}

func TestLoadServices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services")
	if err := os.WriteFile(path, []byte(servicesFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	services, err := LoadServices(path)
	if err != nil {
		t.Fatalf("LoadServices: %v", err)
	}
	if services[8081] != "custom-app" {
		t.Fatalf("8081 = %q", services[8081])
	}

	if _, err := LoadServices(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestServiceTable(t *testing.T) {
	table := NewServiceTable(map[int]string{8081: "custom-app", 80: "www"})

	cases := map[int]string{
		22:    "ssh",
		443:   "https",
		80:    "www",
		8081:  "custom-app",
		49999: "49999",
	}
	for port, want := range cases {
		if got := table.Name(port); got != want {
			t.Errorf("Name(%d) = %q, want %q", port, got, want)
		}
	}
	if _, ok := table.Lookup(49999); ok {
		t.Error("Lookup(49999) should report no registration")
	}
	if table.Len() <= len(wellKnownServices) {
		t.Errorf("overlay did not add entries: %d", table.Len())
	}
}
