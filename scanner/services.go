package scanner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"synscope/logging"
)

// wellKnownServices mirrors the tcp entries of a stock /etc/services for the
// ports people actually scan.
var wellKnownServices = map[int]string{
	1:     "tcpmux",
	7:     "echo",
	9:     "discard",
	11:    "systat",
	13:    "daytime",
	15:    "netstat",
	17:    "qotd",
	19:    "chargen",
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	37:    "time",
	43:    "whois",
	49:    "tacacs",
	53:    "domain",
	70:    "gopher",
	79:    "finger",
	80:    "http",
	88:    "kerberos",
	102:   "iso-tsap",
	104:   "acr-nema",
	110:   "pop3",
	111:   "sunrpc",
	113:   "auth",
	119:   "nntp",
	123:   "ntp",
	135:   "epmap",
	137:   "netbios-ns",
	138:   "netbios-dgm",
	139:   "netbios-ssn",
	143:   "imap2",
	161:   "snmp",
	162:   "snmp-trap",
	163:   "cmip-man",
	164:   "cmip-agent",
	174:   "mailq",
	177:   "xdmcp",
	179:   "bgp",
	194:   "irc",
	199:   "smux",
	209:   "qmtp",
	210:   "z3950",
	213:   "ipx",
	319:   "ptp-event",
	320:   "ptp-general",
	345:   "pawserv",
	346:   "zserv",
	369:   "rpc2portmap",
	370:   "codaauth2",
	371:   "clearcase",
	389:   "ldap",
	427:   "svrloc",
	443:   "https",
	444:   "snpp",
	445:   "microsoft-ds",
	464:   "kpasswd",
	465:   "submissions",
	487:   "saft",
	512:   "exec",
	513:   "login",
	514:   "shell",
	515:   "printer",
	538:   "gdomap",
	540:   "uucp",
	543:   "klogin",
	544:   "kshell",
	546:   "dhcpv6-client",
	547:   "dhcpv6-server",
	548:   "afpovertcp",
	554:   "rtsp",
	563:   "nntps",
	587:   "submission",
	607:   "nqs",
	628:   "qmqp",
	631:   "ipp",
	636:   "ldaps",
	646:   "ldp",
	655:   "tinc",
	706:   "silc",
	749:   "kerberos-adm",
	853:   "domain-s",
	873:   "rsync",
	989:   "ftps-data",
	990:   "ftps",
	992:   "telnets",
	993:   "imaps",
	995:   "pop3s",
	1080:  "socks",
	1194:  "openvpn",
	1433:  "ms-sql-s",
	1434:  "ms-sql-m",
	1524:  "ingreslock",
	1649:  "kermit",
	1701:  "l2f",
	1812:  "radius",
	1813:  "radius-acct",
	1883:  "mqtt",
	2049:  "nfs",
	2101:  "rtcm-sc104",
	2119:  "gsigatekeeper",
	2135:  "gris",
	2401:  "cvspserver",
	2601:  "zebra",
	2605:  "bgpd",
	2947:  "gpsd",
	3050:  "gds-db",
	3260:  "iscsi-target",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	3493:  "nut",
	3632:  "distcc",
	3689:  "daap",
	3690:  "svn",
	4190:  "sieve",
	4369:  "epmd",
	4373:  "remctl",
	4460:  "ntske",
	4569:  "iax",
	4691:  "mtn",
	4899:  "radmin-port",
	5000:  "upnp",
	5060:  "sip",
	5061:  "sip-tls",
	5222:  "xmpp-client",
	5269:  "xmpp-server",
	5308:  "cfengine",
	5353:  "mdns",
	5432:  "postgresql",
	5556:  "freeciv",
	5671:  "amqps",
	5672:  "amqp",
	5900:  "rfb",
	5984:  "couchdb",
	6000:  "x11",
	6379:  "redis",
	6514:  "syslog-tls",
	6566:  "sane-port",
	6667:  "ircd",
	6697:  "ircs-u",
	8080:  "http-alt",
	8443:  "https-alt",
	8883:  "secure-mqtt",
	9000:  "cslistener",
	9100:  "jetdirect",
	9418:  "git",
	10000: "webmin",
	11211: "memcache",
	11371: "hkp",
	27017: "mongodb",
}

// ServiceTable resolves port numbers to conventional service names.
type ServiceTable struct {
	names map[int]string
}

// NewServiceTable returns a table seeded with the embedded well-known ports.
// Entries from overlays replace embedded names for the same port.
func NewServiceTable(overlays ...map[int]string) *ServiceTable {
	names := make(map[int]string, len(wellKnownServices))
	for port, name := range wellKnownServices {
		names[port] = name
	}
	for _, overlay := range overlays {
		for port, name := range overlay {
			names[port] = name
		}
	}
	return &ServiceTable{names: names}
}

// Lookup returns the registered name for port, if any.
func (t *ServiceTable) Lookup(port int) (string, bool) {
	name, ok := t.names[port]
	return name, ok
}

// Name returns the service name for port, or the port number itself when
// nothing is registered. It never fails.
func (t *ServiceTable) Name(port int) string {
	if name, ok := t.Lookup(port); ok {
		return name
	}
	return strconv.Itoa(port)
}

// Len reports how many ports have a registered name.
func (t *ServiceTable) Len() int {
	return len(t.names)
}

// LoadServices reads an /etc/services formatted file and returns its tcp
// entries.
func LoadServices(filePath string) (map[int]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot open file %s: %w", filePath, err)
	}
	defer file.Close()

	return ParseServices(file)
}

// LoadServiceTable builds a table from the embedded names plus, when path is
// not empty, the entries of that services file.
func LoadServiceTable(path string) (*ServiceTable, error) {
	if path == "" {
		return NewServiceTable(), nil
	}
	overlay, err := LoadServices(path)
	if err != nil {
		return nil, err
	}
	return NewServiceTable(overlay), nil
}

// ParseServices parses lines like:
// http		80/tcp		www		# WorldWideWeb HTTP
// Only tcp entries are kept and the first name registered for a port wins.
func ParseServices(r io.Reader) (map[int]string, error) {
	logger := logging.Logger()
	services := make(map[int]string)
	scanner := bufio.NewScanner(r)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		portStr, proto, ok := strings.Cut(fields[1], "/")
		if !ok {
			logger.Debug("services: malformed port field", "line", lineNum, "field", fields[1])
			continue
		}
		if proto != "tcp" {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < minPort || port > maxPort {
			logger.Debug("services: invalid port", "line", lineNum, "field", fields[1])
			continue
		}
		if _, exists := services[port]; !exists {
			services[port] = fields[0]
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading services: %w", err)
	}
	return services, nil
}
