package rtsp

import (
	"net"
	"time"
)

// connWithTimeout applies Timeout to every Read and Write.
type connWithTimeout struct {
	Timeout time.Duration
	net.Conn
}

func (c *connWithTimeout) Read(p []byte) (n int, err error) {
	if c.Timeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.Timeout))
	}
	return c.Conn.Read(p)
}

func (c *connWithTimeout) Write(p []byte) (n int, err error) {
	if c.Timeout > 0 {
		c.Conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	}
	return c.Conn.Write(p)
}
