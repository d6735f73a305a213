package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultHTTPPort is the port device web servers listen on
const DefaultHTTPPort = 80

// NetworkAddress is an IPv4 device address with a port
type NetworkAddress struct {
	octets [4]byte
	port   int
}

// NewAddress builds an address from four octets on the default port
func NewAddress(a, b, c, d byte) NetworkAddress {
	return NetworkAddress{octets: [4]byte{a, b, c, d}, port: DefaultHTTPPort}
}

// ParseAddress parses "a.b.c.d" or "a.b.c.d:port"
func ParseAddress(s string) (NetworkAddress, error) {
	host := strings.TrimSpace(s)
	port := DefaultHTTPPort

	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return NetworkAddress{}, &ConfigurationError{What: "address " + s, Err: err}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return NetworkAddress{}, &ConfigurationError{What: "address " + s, Err: fmt.Errorf("invalid port %q", p)}
		}
		host, port = h, n
	}

	ip := net.ParseIP(host).To4()
	if ip == nil {
		return NetworkAddress{}, &ConfigurationError{What: "address " + s, Err: fmt.Errorf("not an IPv4 address")}
	}

	return NetworkAddress{octets: [4]byte{ip[0], ip[1], ip[2], ip[3]}, port: port}, nil
}

// MustParseAddress is ParseAddress for literals known to be valid
func MustParseAddress(s string) NetworkAddress {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressInPrefix joins a three-octet prefix such as "192.168.1" with a host part
func AddressInPrefix(prefix string, host int) (NetworkAddress, error) {
	if host < 1 || host > 254 {
		return NetworkAddress{}, fmt.Errorf("host part %d out of range", host)
	}
	return ParseAddress(fmt.Sprintf("%s.%d", prefix, host))
}

// WithPort returns a copy of the address on another port
func (a NetworkAddress) WithPort(port int) NetworkAddress {
	a.port = port
	return a
}

// IP returns the address as a net.IP
func (a NetworkAddress) IP() net.IP {
	return net.IPv4(a.octets[0], a.octets[1], a.octets[2], a.octets[3])
}

// Port returns the port, defaulting to 80 for the zero value
func (a NetworkAddress) Port() int {
	if a.port == 0 {
		return DefaultHTTPPort
	}
	return a.port
}

// Prefix returns the first three octets, e.g. "192.168.1"
func (a NetworkAddress) Prefix() string {
	return fmt.Sprintf("%d.%d.%d", a.octets[0], a.octets[1], a.octets[2])
}

// Host returns the last octet
func (a NetworkAddress) Host() int {
	return int(a.octets[3])
}

// IsZero reports whether the address was never set
func (a NetworkAddress) IsZero() bool {
	return a.octets == [4]byte{}
}

// String returns the dotted address without port
func (a NetworkAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.octets[0], a.octets[1], a.octets[2], a.octets[3])
}

// HostPort returns "a.b.c.d:port" suitable for dialing
func (a NetworkAddress) HostPort() string {
	return net.JoinHostPort(a.String(), strconv.Itoa(a.Port()))
}

// URL builds an http URL for a device path, omitting the default port
func (a NetworkAddress) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if a.Port() == DefaultHTTPPort {
		return "http://" + a.String() + path
	}
	return "http://" + a.HostPort() + path
}

// MarshalText implements encoding.TextMarshaler
func (a NetworkAddress) MarshalText() ([]byte, error) {
	if a.Port() == DefaultHTTPPort {
		return []byte(a.String()), nil
	}
	return []byte(a.HostPort()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *NetworkAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
