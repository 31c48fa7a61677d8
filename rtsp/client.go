package rtsp

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/conn"

	"github.com/galaxy-iot/media-relay/sdp"
)

// StatusError is returned by Client when the server answers with a non-200 status.
type StatusError struct {
	Method     base.Method
	StatusCode base.StatusCode
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rtsp: %s failed: %d %s", e.Method, e.StatusCode, e.Message)
}

// Client is a minimal RTSP player: OPTIONS, DESCRIBE, SETUP over UDP, PLAY, TEARDOWN.
type Client struct {
	// timeout of every request, 0 for none
	Timeout time.Duration

	url  *base.URL
	nc   *connWithTimeout
	conn *conn.Conn
	cseq int
}

// DialTimeout connects to a RTSP server.
func DialTimeout(uri string, timeout time.Duration) (*Client, error) {
	u, err := base.ParseURL(uri)
	if err != nil {
		return nil, err
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host += ":554"
	}

	dialer := net.Dialer{Timeout: timeout}
	nconn, err := dialer.Dial("tcp", host)
	if err != nil {
		return nil, err
	}

	nc := &connWithTimeout{Conn: nconn, Timeout: timeout}

	return &Client{
		Timeout: timeout,
		url:     u,
		nc:      nc,
		conn:    conn.NewConn(nc),
	}, nil
}

// Close closes the connection. Sessions opened through it are torn down
// by the server.
func (c *Client) Close() error {
	return c.nc.Close()
}

// LocalAddr returns the local address of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.nc.LocalAddr()
}

// Do sends a request and reads its response. Non-200 responses are returned
// together with a *StatusError.
func (c *Client) Do(req *base.Request) (*base.Response, error) {
	c.nc.Timeout = c.Timeout
	c.cseq++

	if req.URL == nil {
		req.URL = c.url
	}
	if req.Header == nil {
		req.Header = base.Header{}
	}
	req.Header["CSeq"] = base.HeaderValue{strconv.Itoa(c.cseq)}

	if err := c.conn.WriteRequest(req); err != nil {
		return nil, err
	}

	res, err := c.conn.ReadResponse()
	if err != nil {
		return nil, err
	}

	if res.StatusCode != base.StatusOK {
		return res, &StatusError{
			Method:     req.Method,
			StatusCode: res.StatusCode,
			Message:    res.StatusMessage,
		}
	}

	return res, nil
}

// Options returns the methods supported by the server.
func (c *Client) Options() (string, error) {
	res, err := c.Do(&base.Request{Method: base.Options})
	if err != nil {
		return "", err
	}

	return headerValue(res.Header, "Public"), nil
}

// Describe fetches and validates the session description.
func (c *Client) Describe() (*sdp.Description, error) {
	res, err := c.Do(&base.Request{
		Method: base.Describe,
		Header: base.Header{
			"Accept": base.HeaderValue{"application/sdp"},
		},
	})
	if err != nil {
		return nil, err
	}

	return sdp.Parse(string(res.Body))
}

// Setup asks for a unicast UDP session delivered to clientPorts.
// It returns the session identifier and the server Transport header.
func (c *Client) Setup(clientPorts PortRange) (uint64, *TransportDescriptor, error) {
	res, err := c.Do(&base.Request{
		Method: base.Setup,
		Header: base.Header{
			"Transport": base.HeaderValue{"RTP/AVP/UDP;unicast;client_port=" + clientPorts.String()},
		},
	})
	if err != nil {
		return 0, nil, err
	}

	id, err := strconv.ParseUint(headerValue(res.Header, "Session"), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid session header: %w", err)
	}

	transport, err := ParseTransport(headerValue(res.Header, "Transport"))
	if err != nil {
		return 0, nil, err
	}

	return id, transport, nil
}

// Play starts a session. rng is sent as the Range header when not empty;
// the Range echoed by the server is returned.
func (c *Client) Play(session uint64, rng string) (string, error) {
	req := &base.Request{
		Method: base.Play,
		Header: base.Header{
			"Session": base.HeaderValue{strconv.FormatUint(session, 10)},
		},
	}
	if rng != "" {
		req.Header["Range"] = base.HeaderValue{rng}
	}

	res, err := c.Do(req)
	if err != nil {
		return "", err
	}

	return headerValue(res.Header, "Range"), nil
}

// Teardown ends a session.
func (c *Client) Teardown(session uint64) error {
	_, err := c.Do(&base.Request{
		Method: base.Teardown,
		Header: base.Header{
			"Session": base.HeaderValue{strconv.FormatUint(session, 10)},
		},
	})
	return err
}

func headerValue(h base.Header, key string) string {
	if v, ok := h[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}
