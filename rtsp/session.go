package rtsp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/galaxy-iot/media-relay/event"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionClosed  = errors.New("session closed")
)

// PacketWriter is the shared socket used to deliver media to clients.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Session is the server-side state of one client's playback.
// A session starts paused, goes to playing with Play and ends with Teardown.
type Session struct {
	id          uint64
	clientIP    net.IP
	clientZone  string
	clientPorts []int
	video       PacketWriter

	mutex  sync.Mutex
	paused bool
	closed bool

	onPause  event.Signal
	onResume event.Signal
	onClose  event.Signal
	onError  event.Emitter[error]
}

func newSession(id uint64, ip net.IP, zone string, ports []int, video PacketWriter) *Session {
	return &Session{
		id:          id,
		clientIP:    ip,
		clientZone:  zone,
		clientPorts: append([]int(nil), ports...),
		video:       video,
		paused:      true,
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("session %d (%s ports %v)", s.id, s.clientIP, s.clientPorts)
}

// ID returns the session identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// ClientAddr returns the IP address of the client.
func (s *Session) ClientAddr() net.IP {
	return s.clientIP
}

// ClientPorts returns the negotiated client ports.
func (s *Session) ClientPorts() []int {
	return append([]int(nil), s.clientPorts...)
}

// VideoAddr is where video packets are sent.
// Only the first negotiated client port carries video.
func (s *Session) VideoAddr() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   s.clientIP,
		Zone: s.clientZone,
		Port: s.clientPorts[0],
	}
}

// OnPause registers an observer of the playing to paused transition.
func (s *Session) OnPause(cb func()) {
	s.onPause.On(cb)
}

// OnResume registers an observer of the paused to playing transition.
func (s *Session) OnResume(cb func()) {
	s.onResume.On(cb)
}

// OnClose registers an observer of the teardown.
func (s *Session) OnClose(cb func()) {
	s.onClose.On(cb)
}

// OnError registers an observer of send failures.
func (s *Session) OnError(cb func(error)) {
	s.onError.On(cb)
}

// IsPaused reports whether the session is not playing.
func (s *Session) IsPaused() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.paused
}

// IsClosed reports whether the session has been torn down.
func (s *Session) IsClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// Play starts playback. It does nothing if the session is already playing
// or torn down.
func (s *Session) Play() {
	s.mutex.Lock()
	if !s.paused || s.closed {
		s.mutex.Unlock()
		return
	}
	s.paused = false
	s.mutex.Unlock()

	s.onResume.Emit()
}

// Teardown ends the session. Only the first call notifies observers;
// it returns false on later calls.
// Removing the session from its registry is up to the caller.
func (s *Session) Teardown() bool {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return false
	}
	s.closed = true
	wasPlaying := !s.paused
	s.paused = true
	s.mutex.Unlock()

	if wasPlaying {
		s.onPause.Emit()
	}
	s.onClose.Emit()
	return true
}

// SendVideoPacket sends a RTP packet to the client through the shared video socket.
// Send errors are returned and notified to error observers.
func (s *Session) SendVideoPacket(pkt []byte) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}

	if _, err := s.video.WriteTo(pkt, s.VideoAddr()); err != nil {
		err = fmt.Errorf("session %d: %w", s.id, err)
		s.onError.Emit(err)
		return err
	}

	return nil
}
