package rtsp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/wh8199/log"
)

var ErrUnknownMethod = errors.New("unknown method")

// SupportMethods are the methods advertised by OPTIONS.
var SupportMethods = []base.Method{
	base.Options,
	base.Describe,
	base.Setup,
	base.Teardown,
	base.Play,
}

type methodHandler func(c *connection, req *base.Request) (*base.Response, error)

func (s *Server) methodHandlers() map[base.Method]methodHandler {
	return map[base.Method]methodHandler{
		base.Options:  s.handleOptions,
		base.Describe: s.handleDescribe,
		base.Setup:    s.handleSetup,
		base.Play:     s.handlePlay,
		base.Teardown: s.handleTeardown,
	}
}

func (s *Server) dispatch(c *connection, req *base.Request) (*base.Response, error) {
	h, ok := s.handlers[req.Method]
	if !ok {
		return errorResponse(fmt.Errorf("%w: %s", ErrUnknownMethod, req.Method))
	}

	return h(c, req)
}

// errorResponse maps an error to the status code sent to the client.
func errorResponse(err error) (*base.Response, error) {
	var status base.StatusCode

	switch {
	case errors.Is(err, ErrUnsupportedTransport):
		status = base.StatusUnsupportedTransport
	case errors.Is(err, ErrUnknownSession):
		status = base.StatusSessionNotFound
	case errors.Is(err, ErrUnknownMethod):
		status = base.StatusNotImplemented
	default:
		status = base.StatusBadRequest
	}

	return &base.Response{
		StatusCode: status,
	}, err
}

func (s *Server) handleOptions(c *connection, req *base.Request) (*base.Response, error) {
	methods := make([]string, len(SupportMethods))
	for i, m := range SupportMethods {
		methods[i] = string(m)
	}

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Public": base.HeaderValue{strings.Join(methods, ", ")},
		},
	}, nil
}

func (s *Server) handleDescribe(c *connection, req *base.Request) (*base.Response, error) {
	d := s.SessionDescription()

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Content-Type":   base.HeaderValue{"application/sdp"},
			"Content-Length": base.HeaderValue{strconv.Itoa(len(d.Raw))},
		},
		Body: d.Raw,
	}, nil
}

func (s *Server) handleSetup(c *connection, req *base.Request) (*base.Response, error) {
	th, ok := req.Header["Transport"]
	if !ok || len(th) != 1 {
		return errorResponse(errors.New("transport header is missing or duplicated"))
	}

	d, err := ParseTransport(th[0])
	if err != nil {
		return errorResponse(err)
	}

	clientPorts, err := d.ClientPorts()
	if err != nil {
		return errorResponse(err)
	}

	id, session := s.registry.Create(c.remoteIP, c.remoteZone, clientPorts)
	c.sessions = append(c.sessions, session)

	session.OnResume(func() {
		log.Info(fmt.Sprintf("%s [session %d] is playing to %v", c, id, session.VideoAddr()))
	})
	session.OnClose(func() {
		log.Info(fmt.Sprintf("%s [session %d] torn down", c, id))
	})

	// an abrupt disconnect tears the session down, unless TEARDOWN already did
	c.onClose.On(func() {
		if removed, ok := s.registry.Remove(id); ok {
			removed.Teardown()
		}
	})

	log.Info(fmt.Sprintf("%s [session %d] created for %s", c, id, session))

	s.onSession.Emit(session)

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Session":   base.HeaderValue{strconv.FormatUint(id, 10)},
			"Transport": base.HeaderValue{ComposeServerTransport(d, s.serverPorts())},
		},
	}, nil
}

func (s *Server) handlePlay(c *connection, req *base.Request) (*base.Response, error) {
	id, err := sessionID(req)
	if err != nil {
		return errorResponse(err)
	}

	session, err := s.registry.Lookup(id)
	if err != nil {
		return errorResponse(err)
	}

	session.Play()

	res := &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{},
	}

	if rng, ok := req.Header["Range"]; ok {
		res.Header["Range"] = rng
	}

	return res, nil
}

func (s *Server) handleTeardown(c *connection, req *base.Request) (*base.Response, error) {
	id, err := sessionID(req)
	if err != nil {
		return errorResponse(err)
	}

	if session, ok := s.registry.Remove(id); ok {
		session.Teardown()
	}

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

// sessionID reads the Session header. Parameters such as ;timeout= are ignored.
func sessionID(req *base.Request) (uint64, error) {
	sh, ok := req.Header["Session"]
	if !ok || len(sh) != 1 {
		return 0, fmt.Errorf("%w: session header is missing or duplicated", ErrUnknownSession)
	}

	raw := strings.TrimSpace(strings.SplitN(sh[0], ";", 2)[0])

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid session id '%s'", ErrUnknownSession, raw)
	}

	return id, nil
}
