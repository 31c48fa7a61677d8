package rtsp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	supportedProtocol       = "RTP"
	supportedProfile        = "AVP"
	supportedLowerTransport = "UDP"
	deliveryUnicast         = "unicast"

	paramClientPort = "client_port"
	paramServerPort = "server_port"
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrInvalidRange         = errors.New("invalid port range")
	ErrMissingClientPort    = errors.New("missing client_port")
)

// UnsupportedTransportError is returned when a field of a Transport header
// names something this server cannot deliver.
type UnsupportedTransportError struct {
	Field string
	Value string
}

func (e *UnsupportedTransportError) Error() string {
	return fmt.Sprintf("unsupported transport: only %s is supported for %s, got '%s'",
		supportedValues[e.Field], e.Field, e.Value)
}

// Is makes errors.Is(err, ErrUnsupportedTransport) hold.
func (e *UnsupportedTransportError) Is(target error) bool {
	return target == ErrUnsupportedTransport
}

var supportedValues = map[string]string{
	"protocol":        supportedProtocol,
	"profile":         supportedProfile,
	"lower-transport": supportedLowerTransport,
	"delivery":        deliveryUnicast,
}

// PortRange is an inclusive range of UDP ports.
type PortRange struct {
	First int
	Last  int
}

func (r PortRange) String() string {
	return strconv.Itoa(r.First) + "-" + strconv.Itoa(r.Last)
}

// TransportDescriptor is a parsed and validated Transport header.
type TransportDescriptor struct {
	Protocol       string
	Profile        string
	LowerTransport string
	Delivery       string
	Unicast        bool

	keys   []string
	values map[string]string
}

// Param returns the raw value of a parameter.
func (d *TransportDescriptor) Param(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Params returns the parameter names in order of first appearance.
func (d *TransportDescriptor) Params() []string {
	return append([]string(nil), d.keys...)
}

func (d *TransportDescriptor) setParam(key, value string) {
	if d.values == nil {
		d.values = map[string]string{}
	}

	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// ClientPorts expands the client_port parameter.
func (d *TransportDescriptor) ClientPorts() ([]int, error) {
	v, ok := d.values[paramClientPort]
	if !ok {
		return nil, ErrMissingClientPort
	}

	return ParsePortRange(v)
}

// ParseTransport parses and validates a Transport header, e.g.
//
//	RTP/AVP/UDP;unicast;client_port=4588-4589
func ParseTransport(raw string) (*TransportDescriptor, error) {
	items := strings.Split(raw, ";")

	spec := strings.TrimSpace(items[0])
	if spec == "" {
		return nil, fmt.Errorf("%w: empty transport specification", ErrUnsupportedTransport)
	}

	d := &TransportDescriptor{}

	parts := strings.Split(spec, "/")
	d.Protocol = parts[0]
	if len(parts) > 1 {
		d.Profile = parts[1]
	}
	// RTP/AVP means RTP/AVP/UDP
	d.LowerTransport = supportedLowerTransport
	if len(parts) > 2 {
		d.LowerTransport = parts[2]
	}

	if len(items) > 1 {
		d.Delivery = strings.TrimSpace(items[1])
	}
	d.Unicast = d.Delivery == deliveryUnicast

	switch {
	case d.Protocol != supportedProtocol:
		return nil, &UnsupportedTransportError{Field: "protocol", Value: d.Protocol}
	case d.Profile != supportedProfile:
		return nil, &UnsupportedTransportError{Field: "profile", Value: d.Profile}
	case len(parts) > 3 || d.LowerTransport != supportedLowerTransport:
		return nil, &UnsupportedTransportError{Field: "lower-transport", Value: d.LowerTransport}
	case !d.Unicast:
		return nil, &UnsupportedTransportError{Field: "delivery", Value: d.Delivery}
	}

	if len(items) > 2 {
		for _, item := range items[2:] {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}

			kv := strings.SplitN(item, "=", 2)
			if len(kv) == 1 {
				d.setParam(kv[0], "")
				continue
			}
			d.setParam(kv[0], kv[1])
		}
	}

	return d, nil
}

// ParsePortRange expands a "first-last" port range.
func ParsePortRange(spec string) ([]int, error) {
	bounds := strings.Split(strings.TrimSpace(spec), "-")
	if len(bounds) > 2 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, spec)
	}

	first, err := parsePort(bounds[0])
	if err != nil {
		return nil, err
	}

	last := first
	if len(bounds) == 2 {
		last, err = parsePort(bounds[1])
		if err != nil {
			return nil, err
		}
	}

	if last < first {
		return nil, fmt.Errorf("%w: port range must be ascending, got %s", ErrInvalidRange, spec)
	}

	ports := make([]int, 0, last-first+1)
	for port := first; port <= last; port++ {
		ports = append(ports, port)
	}

	return ports, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid port '%s'", ErrInvalidRange, s)
	}

	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: port %d out of range", ErrInvalidRange, port)
	}

	return port, nil
}

// ComposeServerTransport builds the Transport header of a SETUP response.
// Parameters sent by the client are echoed and server_port is set to serverPorts.
func ComposeServerTransport(d *TransportDescriptor, serverPorts PortRange) string {
	buf := bytes.Buffer{}

	buf.WriteString(supportedProtocol + "/" + supportedProfile + "/" + supportedLowerTransport)
	buf.WriteString(";")
	buf.WriteString(deliveryUnicast)

	serverPortWritten := false
	for _, key := range d.keys {
		value := d.values[key]
		if key == paramServerPort {
			value = serverPorts.String()
			serverPortWritten = true
		}

		buf.WriteString(";")
		buf.WriteString(key)
		if value != "" {
			buf.WriteString("=")
			buf.WriteString(value)
		}
	}

	if !serverPortWritten {
		buf.WriteString(";" + paramServerPort + "=")
		buf.WriteString(serverPorts.String())
	}

	return buf.String()
}
