package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testDescription = "v=0\n" +
	"o=- 0 0 IN IP4 127.0.0.1\n" +
	"s=Stream\n" +
	"t=0 0\n" +
	"m=video 0 RTP/AVP 96\n" +
	"a=rtpmap:96 H264/90000\n"

func TestParseDefaults(t *testing.T) {
	conf, err := Parse([]byte("description: |\n" +
		"  v=0\n" +
		"  o=- 0 0 IN IP4 127.0.0.1\n" +
		"  s=Stream\n" +
		"  t=0 0\n" +
		"  m=video 0 RTP/AVP 96\n"))
	require.NoError(t, err)

	require.Equal(t, ":8554", conf.RTSPAddress)
	require.Equal(t, 6000, conf.VideoPort)
	require.Equal(t, 6001, conf.AudioPort)
	require.Equal(t, Duration(10*time.Second), conf.ReadTimeout)
	require.Equal(t, Duration(10*time.Second), conf.WriteTimeout)
	require.Equal(t, "", conf.IngestAddress)

	cfg := conf.ServerConfig()
	require.Equal(t, 10*time.Second, cfg.ReadTimeout)
	require.Equal(t, conf.Description, cfg.Description)
}

func TestParse(t *testing.T) {
	conf, err := Parse([]byte("rtspAddress: 127.0.0.1:9554\n" +
		"videoPort: 7000\n" +
		"audioPort: 7001\n" +
		"descriptionFile: stream.sdp\n" +
		"ingestAddress: \":5004\"\n" +
		"readTimeout: 5s\n" +
		"writeTimeout: 500ms\n" +
		"trafficClass: 184\n"))
	require.NoError(t, err)

	require.Equal(t, &Conf{
		RTSPAddress:     "127.0.0.1:9554",
		VideoPort:       7000,
		AudioPort:       7001,
		DescriptionFile: "stream.sdp",
		IngestAddress:   ":5004",
		ReadTimeout:     Duration(5 * time.Second),
		WriteTimeout:    Duration(500 * time.Millisecond),
		TrafficClass:    184,
	}, conf)
}

func TestParseErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		yaml string
	}{
		{"unknown key", "descriptionFile: a.sdp\nfoo: bar\n"},
		{"no description", "videoPort: 7000\n"},
		{"both descriptions", "descriptionFile: a.sdp\ndescription: v=0\n"},
		{"invalid description", "description: invalid\n"},
		{"invalid port", "descriptionFile: a.sdp\nvideoPort: 70000\n"},
		{"same ports", "descriptionFile: a.sdp\nvideoPort: 7000\naudioPort: 7000\n"},
		{"invalid duration", "descriptionFile: a.sdp\nreadTimeout: abc\n"},
		{"negative duration", "descriptionFile: a.sdp\nreadTimeout: -1s\n"},
		{"invalid traffic class", "descriptionFile: a.sdp\ntrafficClass: 300\n"},
		{"empty address", "descriptionFile: a.sdp\nrtspAddress: \"\"\n"},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := Parse([]byte(ca.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream.sdp"), []byte(testDescription), 0o644))

	fpath := filepath.Join(dir, "relay.yml")
	require.NoError(t, os.WriteFile(fpath, []byte("descriptionFile: stream.sdp\nvideoPort: 0\naudioPort: 0\n"), 0o644))

	conf, err := Load(fpath)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "stream.sdp"), conf.DescriptionFile)
	require.Equal(t, testDescription, conf.Description)
	require.Equal(t, 0, conf.VideoPort)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("/nonexistent/relay.yml")
	require.Error(t, err)

	dir := t.TempDir()
	fpath := filepath.Join(dir, "relay.yml")
	require.NoError(t, os.WriteFile(fpath, []byte("descriptionFile: missing.sdp\n"), 0o644))

	_, err = Load(fpath)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.sdp"), []byte("invalid"), 0o644))
	require.NoError(t, os.WriteFile(fpath, []byte("descriptionFile: bad.sdp\n"), 0o644))

	_, err = Load(fpath)
	require.Error(t, err)
}
