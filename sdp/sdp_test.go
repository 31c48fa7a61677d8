package sdp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testDescription = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=Stream\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 profile-level-id=4D4033\r\n" +
	"a=control:trackID=0\r\n"

func TestParse(t *testing.T) {
	d, err := Parse(testDescription)
	require.NoError(t, err)
	require.Equal(t, []byte(testDescription), d.Raw)
	require.Equal(t, "Stream", d.Name)
	require.Equal(t, &Media{
		PayloadType: 96,
		Encoding:    "H264",
		TimeScale:   90000,
		Control:     "trackID=0",
	}, d.Video)
}

func TestParseSkipsAudio(t *testing.T) {
	d, err := Parse("v=0\n" +
		"o=- 0 0 IN IP4 127.0.0.1\n" +
		"s=Stream\n" +
		"t=0 0\n" +
		"m=audio 0 RTP/AVP 0\n" +
		"m=video 0 RTP/AVP 97\n" +
		"a=rtpmap:97 H265/90000\n")
	require.NoError(t, err)
	require.Equal(t, 97, d.Video.PayloadType)
	require.Equal(t, "H265", d.Video.Encoding)
}

func TestParseErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		raw  string
	}{
		{
			"garbage",
			"not a description",
		},
		{
			"no video",
			"v=0\no=- 0 0 IN IP4 127.0.0.1\ns=Stream\nt=0 0\nm=audio 0 RTP/AVP 0\n",
		},
		{
			"invalid payload type",
			"v=0\no=- 0 0 IN IP4 127.0.0.1\ns=Stream\nt=0 0\nm=video 0 RTP/AVP abc\n",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := Parse(ca.raw)
			require.Error(t, err)
		})
	}
}

func TestParseNoVideo(t *testing.T) {
	_, err := Parse("v=0\no=- 0 0 IN IP4 127.0.0.1\ns=Stream\nt=0 0\n")
	require.ErrorIs(t, err, ErrNoVideo)
}
