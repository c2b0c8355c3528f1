package commands

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the SMB2 direct TCP port.
const DefaultPort = 445

// Target is a server endpoint and the shares to attach on it.
type Target struct {
	Host   string
	Port   int
	Shares []string
}

// Addr returns host:port for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String renders the target as a UNC-style path.
func (t Target) String() string {
	host := t.Host
	if t.Port != DefaultPort {
		host = t.Addr()
	}
	if len(t.Shares) == 0 {
		return "//" + host
	}
	return "//" + host + "/" + strings.Join(t.Shares, ",")
}

// ParseTarget accepts "//server/share", `\\server\share`, "smb://server/share"
// and "server[:port][/share]". extra names further shares to attach.
func ParseTarget(s string, extra ...string) (Target, error) {
	rest := strings.TrimPrefix(s, "smb://")
	rest = strings.ReplaceAll(rest, `\`, "/")
	rest = strings.TrimLeft(rest, "/")

	hostPart, sharePart, _ := strings.Cut(rest, "/")
	if hostPart == "" {
		return Target{}, fmt.Errorf("invalid target %q: missing server", s)
	}

	t := Target{Host: hostPart, Port: DefaultPort}
	if h, p, err := net.SplitHostPort(hostPart); err == nil {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return Target{}, fmt.Errorf("invalid target %q: bad port %q", s, p)
		}
		t.Host, t.Port = h, int(port)
	} else if strings.HasPrefix(hostPart, "[") && strings.HasSuffix(hostPart, "]") {
		t.Host = hostPart[1 : len(hostPart)-1]
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("invalid target %q: missing server", s)
	}

	share := strings.Trim(sharePart, "/")
	if strings.Contains(share, "/") {
		return Target{}, fmt.Errorf("invalid target %q: paths below a share are not supported", s)
	}

	seen := make(map[string]bool)
	for _, name := range append([]string{share}, extra...) {
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		t.Shares = append(t.Shares, name)
	}
	return t, nil
}

// splitUser splits `DOMAIN\user`. Other forms, including user@realm, are
// returned whole as the user name.
func splitUser(s string) (domain, user string) {
	if d, u, ok := strings.Cut(s, `\`); ok {
		return d, u
	}
	return "", s
}
