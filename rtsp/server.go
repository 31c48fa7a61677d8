package rtsp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/wh8199/log"

	"github.com/galaxy-iot/media-relay/event"
	"github.com/galaxy-iot/media-relay/fence"
	"github.com/galaxy-iot/media-relay/sdp"
)

const (
	DefaultRTSPAddress = ":8554"
	DefaultVideoPort   = 6000
	DefaultAudioPort   = 6001
)

var ErrServerClosed = errors.New("server closed")

// delays between failed Accept calls
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

// ServerConfig is the configuration of a Server.
type ServerConfig struct {
	// address of the RTSP listener
	RTSPAddress string
	// UDP ports of the media sockets, advertised as server_port=<video>-<audio>
	VideoPort int
	AudioPort int
	// session description served by DESCRIBE
	Description string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// IPv6 traffic class / IPv4 TOS of outgoing media, 0 to leave unset
	TrafficClass int
}

// Server is a RTSP server that hands out playback sessions.
// It accepts connections only after both media sockets are bound.
type Server struct {
	ServerConfig

	fence    *fence.Fence
	video    *mediaSocket
	audio    *mediaSocket
	registry *Registry
	handlers map[base.Method]methodHandler

	descriptionLock sync.RWMutex
	description     *sdp.Description

	mutex    sync.Mutex
	closed   bool
	listener net.Listener
	conns    map[*connection]struct{}
	wg       sync.WaitGroup

	started  chan struct{}
	startErr error
	once     sync.Once

	ctx       context.Context
	ctxCancel context.CancelFunc

	onReady   event.Signal
	onSession event.Emitter[*Session]
	onError   event.Emitter[error]
}

// NewServer allocates a Server. Nothing is bound until Start is called.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.RTSPAddress == "" {
		cfg.RTSPAddress = DefaultRTSPAddress
	}

	description, err := sdp.Parse(cfg.Description)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ServerConfig: cfg,
		fence:        fence.New(),
		video:        newMediaSocket("video", cfg.VideoPort, cfg.WriteTimeout, cfg.TrafficClass),
		audio:        newMediaSocket("audio", cfg.AudioPort, cfg.WriteTimeout, cfg.TrafficClass),
		description:  description,
		conns:        map[*connection]struct{}{},
		started:      make(chan struct{}),
	}

	s.registry = NewRegistry(s.video)
	s.handlers = s.methodHandlers()
	s.ctx, s.ctxCancel = context.WithCancel(context.Background())

	return s, nil
}

// OnReady registers a callback fired once the server accepts connections.
// Callbacks must be registered before Start.
func (s *Server) OnReady(cb func()) {
	s.onReady.On(cb)
}

// OnSession registers a callback fired for every new session.
func (s *Server) OnSession(cb func(*Session)) {
	s.onSession.On(cb)
}

// OnError registers a callback fired on startup failures.
func (s *Server) OnError(cb func(error)) {
	s.onError.On(cb)
}

// Start binds the media sockets in parallel. The RTSP listener is opened
// once both are bound.
func (s *Server) Start() {
	videoCheckpoint := s.fence.Checkpoint()
	audioCheckpoint := s.fence.Checkpoint()

	s.fence.OnReady(s.onSocketsReady)
	s.fence.OnError(s.onStartError)

	go s.bind(s.video, videoCheckpoint)
	go s.bind(s.audio, audioCheckpoint)
}

func (s *Server) bind(ms *mediaSocket, c *fence.Checkpoint) {
	if err := ms.listen(); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		c.Failed(err)
		return
	}

	log.Info(fmt.Sprintf("%s socket bound on port %d", ms.media, ms.boundPort()))
	c.Reached()
}

func (s *Server) onSocketsReady() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}

	listener, err := net.Listen("tcp", s.RTSPAddress)
	if err != nil {
		s.mutex.Unlock()
		s.onStartError(err)
		return
	}
	s.listener = listener

	s.wg.Add(1)
	go s.incomingConnectionHandler()
	s.mutex.Unlock()

	log.Info(fmt.Sprintf("rtsp server listening on %s, server_port=%s", listener.Addr(), s.serverPorts()))

	s.once.Do(func() { close(s.started) })
	s.onReady.Emit()
}

func (s *Server) onStartError(err error) {
	log.Error(err)

	s.once.Do(func() {
		s.startErr = err
		close(s.started)
	})
	s.onError.Emit(err)
}

// Wait blocks until the server accepts connections or fails to start.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-s.started:
		return s.startErr
	default:
	}

	select {
	case <-s.started:
		return s.startErr
	case <-s.ctx.Done():
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the address of the RTSP listener, or nil before it is opened.
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Session returns a live session.
func (s *Server) Session(id uint64) (*Session, error) {
	return s.registry.Lookup(id)
}

// SessionIDs returns the identifiers of live sessions.
func (s *Server) SessionIDs() []uint64 {
	return s.registry.IDs()
}

// SetDescription replaces the session description served by DESCRIBE.
func (s *Server) SetDescription(raw string) error {
	description, err := sdp.Parse(raw)
	if err != nil {
		return err
	}

	s.descriptionLock.Lock()
	s.description = description
	s.descriptionLock.Unlock()

	log.Info("session description updated")
	return nil
}

// SessionDescription returns the session description served by DESCRIBE.
func (s *Server) SessionDescription() *sdp.Description {
	s.descriptionLock.RLock()
	defer s.descriptionLock.RUnlock()
	return s.description
}

func (s *Server) serverPorts() PortRange {
	return PortRange{
		First: s.video.boundPort(),
		Last:  s.audio.boundPort(),
	}
}

func (s *Server) incomingConnectionHandler() {
	defer s.wg.Done()

	var delay time.Duration

	for {
		nconn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			// errors like EMFILE persist for a while
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}

			log.Error(fmt.Sprintf("accept error: %v; retrying in %v", err, delay))

			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		delay = 0

		c := newConnection(s, nconn)

		s.mutex.Lock()
		if s.closed {
			s.mutex.Unlock()
			nconn.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mutex.Unlock()

		go func() {
			defer s.wg.Done()
			c.incomingRequestHandler()

			s.mutex.Lock()
			delete(s.conns, c)
			s.mutex.Unlock()
		}()
	}
}

// Close stops the listener, closes every connection, tears down every
// session and releases the media sockets.
func (s *Server) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	s.ctxCancel()

	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.close()
	}
	s.mutex.Unlock()

	s.wg.Wait()

	s.registry.Close()
	s.video.close()
	s.audio.close()

	log.Info("rtsp server closed")
}
