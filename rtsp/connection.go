package rtsp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/conn"
	"github.com/google/uuid"
	"github.com/wh8199/log"

	"github.com/galaxy-iot/media-relay/event"
)

// connection is a RTSP client connection.
type connection struct {
	s     *Server
	nconn net.Conn
	conn  *conn.Conn
	uuid  uuid.UUID

	remoteIP   net.IP
	remoteZone string

	// sessions set up on this connection, accessed by the request loop only
	sessions []*Session

	// fired once, when the connection is gone
	onClose event.Signal
}

func newConnection(s *Server, nconn net.Conn) *connection {
	c := &connection{
		s:     s,
		nconn: nconn,
		conn:  conn.NewConn(nconn),
		uuid:  uuid.New(),
	}

	if addr, ok := nconn.RemoteAddr().(*net.TCPAddr); ok {
		c.remoteIP = addr.IP
		c.remoteZone = addr.Zone
	}

	log.Info(fmt.Sprintf("%s opened by %v", c, nconn.RemoteAddr()))
	return c
}

func (c *connection) String() string {
	return "[conn " + hex.EncodeToString(c.uuid[:4]) + "]"
}

func (c *connection) close() {
	c.nconn.Close()
}

func (c *connection) destroy(err error) {
	c.nconn.Close()
	c.onClose.Emit()

	log.Info(fmt.Sprintf("%s closed: %v", c, err))
}

func (c *connection) incomingRequestHandler() {
	err := c.readRequests()
	c.destroy(err)
}

func (c *connection) readRequests() error {
	for {
		if c.s.ReadTimeout > 0 {
			// clients receiving media over UDP may leave the control
			// connection idle while playing
			if c.playing() {
				c.nconn.SetReadDeadline(time.Time{})
			} else {
				c.nconn.SetReadDeadline(time.Now().Add(c.s.ReadTimeout))
			}
		}

		req, err := c.conn.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("closed by client")
			}
			return err
		}

		res := c.handleRequest(req)

		if c.s.WriteTimeout > 0 {
			c.nconn.SetWriteDeadline(time.Now().Add(c.s.WriteTimeout))
		}

		if err := c.conn.WriteResponse(res); err != nil {
			return err
		}
	}
}

// playing reports whether a session of this connection is playing.
// Closed sessions are forgotten.
func (c *connection) playing() bool {
	ret := false
	n := 0

	for _, s := range c.sessions {
		if s.IsClosed() {
			continue
		}
		c.sessions[n] = s
		n++

		if !s.IsPaused() {
			ret = true
		}
	}
	c.sessions = c.sessions[:n]

	return ret
}

// handleRequest never fails: errors, including handler panics, become
// error responses and the connection keeps serving.
func (c *connection) handleRequest(req *base.Request) (res *base.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("%s panic while handling %s: %v", c, req.Method, r))
			res = &base.Response{
				StatusCode: base.StatusInternalServerError,
			}
		}

		if res.Header == nil {
			res.Header = base.Header{}
		}
		if cseq, ok := req.Header["CSeq"]; ok {
			res.Header["CSeq"] = cseq
		}
	}()

	res, err := c.s.dispatch(c, req)
	if err != nil {
		log.Error(fmt.Sprintf("%s %s: %v", c, req.Method, err))
	}

	return res
}
