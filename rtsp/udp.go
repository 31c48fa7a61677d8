package rtsp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/wh8199/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var (
	ErrBind = errors.New("unable to bind media socket")

	errSocketNotBound = errors.New("media socket is not bound")
	errSocketClosed   = errors.New("media socket is closed")
)

// BindError is reported when a media socket cannot be bound.
type BindError struct {
	Media string
	Port  int
	Err   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("unable to bind %s socket on port %d: %v", e.Media, e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBind) hold.
func (e *BindError) Is(target error) bool {
	return target == ErrBind
}

// mediaSocket is a server-side UDP socket shared by every session.
type mediaSocket struct {
	media        string
	port         int
	writeTimeout time.Duration
	trafficClass int

	mutex  sync.Mutex
	pc     *net.UDPConn
	closed bool
	done   chan struct{}
}

func newMediaSocket(media string, port int, writeTimeout time.Duration, trafficClass int) *mediaSocket {
	return &mediaSocket{
		media:        media,
		port:         port,
		writeTimeout: writeTimeout,
		trafficClass: trafficClass,
		done:         make(chan struct{}),
	}
}

// listen binds a dual-stack UDP socket.
func (s *mediaSocket) listen() error {
	p, err := net.ListenPacket("udp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return &BindError{Media: s.media, Port: s.port, Err: err}
	}

	pc, ok := p.(*net.UDPConn)
	if !ok {
		p.Close()
		return &BindError{Media: s.media, Port: s.port, Err: fmt.Errorf("invalid listen packet")}
	}

	if s.trafficClass != 0 {
		if err := setTrafficClass(pc, s.trafficClass); err != nil {
			pc.Close()
			return &BindError{Media: s.media, Port: s.port, Err: err}
		}
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		pc.Close()
		return &BindError{Media: s.media, Port: s.port, Err: errSocketClosed}
	}
	s.pc = pc
	s.mutex.Unlock()

	go s.run(pc)

	return nil
}

// setTrafficClass marks outgoing packets with the IPv6 traffic class,
// or the IPv4 TOS on hosts without IPv6.
func setTrafficClass(pc *net.UDPConn, trafficClass int) error {
	if err := ipv6.NewPacketConn(pc).SetTrafficClass(trafficClass); err != nil {
		return ipv4.NewPacketConn(pc).SetTOS(trafficClass)
	}
	return nil
}

// run discards incoming datagrams (client RTCP reports and the like)
// so that the receive buffer never fills up.
func (s *mediaSocket) run(pc *net.UDPConn) {
	defer close(s.done)

	buf := make([]byte, 2048)
	for {
		if _, _, err := pc.ReadFrom(buf); err != nil {
			return
		}
	}
}

func (s *mediaSocket) conn() *net.UDPConn {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.pc
}

// boundPort returns the local port, which differs from the configured one
// when the configured one is zero.
func (s *mediaSocket) boundPort() int {
	if pc := s.conn(); pc != nil {
		return pc.LocalAddr().(*net.UDPAddr).Port
	}
	return s.port
}

// WriteTo implements PacketWriter.
func (s *mediaSocket) WriteTo(payload []byte, addr net.Addr) (int, error) {
	pc := s.conn()
	if pc == nil {
		return 0, errSocketNotBound
	}

	// no mutex is needed here since WriteTo() has an internal lock.
	// https://github.com/golang/go/issues/27203#issuecomment-534386117
	if s.writeTimeout > 0 {
		pc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return pc.WriteTo(payload, addr)
}

func (s *mediaSocket) close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	pc := s.pc
	s.mutex.Unlock()

	if pc == nil {
		return
	}

	if err := pc.Close(); err != nil {
		log.Error(err)
	}
	<-s.done
}
