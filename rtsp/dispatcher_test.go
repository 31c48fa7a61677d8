package rtsp

import (
	"net"
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/stretchr/testify/require"
)

const testDescription = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=Stream\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 profile-level-id=4D4033\r\n"

var testURL = func() *base.URL {
	u, err := base.ParseURL("rtsp://localhost:8554/stream")
	if err != nil {
		panic(err)
	}
	return u
}()

func newTestServer(t *testing.T) *Server {
	s, err := NewServer(ServerConfig{
		VideoPort:   DefaultVideoPort,
		AudioPort:   DefaultAudioPort,
		Description: testDescription,
	})
	require.NoError(t, err)
	return s
}

func newTestConnection(s *Server) *connection {
	return &connection{
		s:        s,
		remoteIP: net.ParseIP("192.168.1.10"),
	}
}

func request(method base.Method, cseq string, header base.Header) *base.Request {
	if header == nil {
		header = base.Header{}
	}
	header["CSeq"] = base.HeaderValue{cseq}

	return &base.Request{
		Method: method,
		URL:    testURL,
		Header: header,
	}
}

func TestDispatchOptions(t *testing.T) {
	c := newTestConnection(newTestServer(t))

	res := c.handleRequest(request(base.Options, "1", nil))
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"OPTIONS, DESCRIBE, SETUP, TEARDOWN, PLAY"}, res.Header["Public"])
	require.Equal(t, base.HeaderValue{"1"}, res.Header["CSeq"])
}

func TestDispatchDescribe(t *testing.T) {
	c := newTestConnection(newTestServer(t))

	res := c.handleRequest(request(base.Describe, "2", nil))
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"application/sdp"}, res.Header["Content-Type"])
	require.Equal(t, base.HeaderValue{"147"}, res.Header["Content-Length"])
	require.Equal(t, []byte(testDescription), res.Body)
	require.Len(t, res.Body, 147)
}

func TestDispatchSetDescription(t *testing.T) {
	s := newTestServer(t)
	c := newTestConnection(s)

	require.Error(t, s.SetDescription("invalid"))

	other := "v=0\no=- 0 0 IN IP4 127.0.0.1\ns=Other\nt=0 0\nm=video 0 RTP/AVP 97\n"
	require.NoError(t, s.SetDescription(other))

	res := c.handleRequest(request(base.Describe, "2", nil))
	require.Equal(t, []byte(other), res.Body)
	require.Equal(t, 97, s.SessionDescription().Video.PayloadType)
}

func TestDispatchUnknownMethod(t *testing.T) {
	c := newTestConnection(newTestServer(t))

	for _, method := range []base.Method{base.Pause, base.Record, base.Announce, "FOO"} {
		res := c.handleRequest(request(method, "3", nil))
		require.Equal(t, base.StatusNotImplemented, res.StatusCode)
		require.Equal(t, base.HeaderValue{"3"}, res.Header["CSeq"])
	}
}

func TestDispatchSetupPlayTeardown(t *testing.T) {
	s := newTestServer(t)
	c := newTestConnection(s)

	var created []*Session
	s.OnSession(func(session *Session) { created = append(created, session) })

	res := c.handleRequest(request(base.Setup, "1", base.Header{
		"Transport": base.HeaderValue{"RTP/AVP/UDP;unicast;client_port=7000-7001"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"1"}, res.Header["Session"])
	require.Equal(t, base.HeaderValue{"RTP/AVP/UDP;unicast;client_port=7000-7001;server_port=6000-6001"},
		res.Header["Transport"])

	require.Len(t, created, 1)
	session := created[0]
	require.Equal(t, "192.168.1.10:7000", session.VideoAddr().String())
	require.True(t, session.IsPaused())

	resumed := 0
	session.OnResume(func() { resumed++ })

	res = c.handleRequest(request(base.Play, "2", base.Header{
		"Session": base.HeaderValue{"1"},
		"Range":   base.HeaderValue{"npt=0-"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"npt=0-"}, res.Header["Range"])
	require.Equal(t, 1, resumed)
	require.False(t, session.IsPaused())

	closed := 0
	session.OnClose(func() { closed++ })

	res = c.handleRequest(request(base.Teardown, "3", base.Header{
		"Session": base.HeaderValue{"1"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, 1, closed)
	require.Empty(t, s.SessionIDs())

	res = c.handleRequest(request(base.Play, "4", base.Header{
		"Session": base.HeaderValue{"1"},
		"Range":   base.HeaderValue{"npt=0-"},
	}))
	require.Equal(t, base.StatusSessionNotFound, res.StatusCode)

	// TEARDOWN of a missing session still succeeds
	res = c.handleRequest(request(base.Teardown, "5", base.Header{
		"Session": base.HeaderValue{"1"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)

	// the disconnect that follows does not tear down again
	c.onClose.Emit()
	require.Equal(t, 1, closed)
}

func TestDispatchSessionIDs(t *testing.T) {
	s := newTestServer(t)
	c := newTestConnection(s)

	setup := func() string {
		res := c.handleRequest(request(base.Setup, "1", base.Header{
			"Transport": base.HeaderValue{"RTP/AVP/UDP;unicast;client_port=7000-7001"},
		}))
		require.Equal(t, base.StatusOK, res.StatusCode)
		return res.Header["Session"][0]
	}

	require.Equal(t, "1", setup())
	require.Equal(t, "2", setup())

	res := c.handleRequest(request(base.Teardown, "2", base.Header{
		"Session": base.HeaderValue{"1"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)

	require.Equal(t, "3", setup())
	require.Equal(t, []uint64{2, 3}, s.SessionIDs())
}

func TestDispatchSetupErrors(t *testing.T) {
	for _, ca := range []struct {
		name   string
		header base.Header
		status base.StatusCode
	}{
		{
			"missing transport",
			base.Header{},
			base.StatusBadRequest,
		},
		{
			"tcp",
			base.Header{"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"}},
			base.StatusUnsupportedTransport,
		},
		{
			"multicast",
			base.Header{"Transport": base.HeaderValue{"RTP/AVP/UDP;multicast;client_port=7000-7001"}},
			base.StatusUnsupportedTransport,
		},
		{
			"descending range",
			base.Header{"Transport": base.HeaderValue{"RTP/AVP/UDP;unicast;client_port=7001-7000"}},
			base.StatusBadRequest,
		},
		{
			"missing client port",
			base.Header{"Transport": base.HeaderValue{"RTP/AVP/UDP;unicast"}},
			base.StatusBadRequest,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			s := newTestServer(t)
			c := newTestConnection(s)

			res := c.handleRequest(request(base.Setup, "1", ca.header))
			require.Equal(t, ca.status, res.StatusCode)
			require.Empty(t, s.SessionIDs())

			// the connection keeps working
			res = c.handleRequest(request(base.Options, "2", nil))
			require.Equal(t, base.StatusOK, res.StatusCode)
		})
	}
}

func TestDispatchPlayErrors(t *testing.T) {
	c := newTestConnection(newTestServer(t))

	for _, header := range []base.Header{
		{},
		{"Session": base.HeaderValue{"abc"}},
		{"Session": base.HeaderValue{"0"}},
		{"Session": base.HeaderValue{"12"}},
	} {
		res := c.handleRequest(request(base.Play, "1", header))
		require.Equal(t, base.StatusSessionNotFound, res.StatusCode)
	}
}

func TestDispatchSessionHeaderParameters(t *testing.T) {
	s := newTestServer(t)
	c := newTestConnection(s)

	res := c.handleRequest(request(base.Setup, "1", base.Header{
		"Transport": base.HeaderValue{"RTP/AVP/UDP;unicast;client_port=7000-7001"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = c.handleRequest(request(base.Play, "2", base.Header{
		"Session": base.HeaderValue{"1;timeout=60"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)
	_, ok := res.Header["Range"]
	require.False(t, ok)
}

func TestDispatchDisconnect(t *testing.T) {
	s := newTestServer(t)
	c := newTestConnection(s)

	res := c.handleRequest(request(base.Setup, "1", base.Header{
		"Transport": base.HeaderValue{"RTP/AVP/UDP;unicast;client_port=7000-7001"},
	}))
	require.Equal(t, base.StatusOK, res.StatusCode)

	session, err := s.Session(1)
	require.NoError(t, err)

	closed := 0
	session.OnClose(func() { closed++ })

	c.onClose.Emit()
	require.Equal(t, 1, closed)
	require.Empty(t, s.SessionIDs())

	_, err = s.Session(1)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestDispatchPanic(t *testing.T) {
	s := newTestServer(t)
	s.handlers[base.GetParameter] = func(*connection, *base.Request) (*base.Response, error) {
		panic("boom")
	}
	c := newTestConnection(s)

	res := c.handleRequest(request(base.GetParameter, "7", nil))
	require.Equal(t, base.StatusInternalServerError, res.StatusCode)
	require.Equal(t, base.HeaderValue{"7"}, res.Header["CSeq"])
}
