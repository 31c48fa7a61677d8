// Package sdp validates the session description served by DESCRIBE.
package sdp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

var ErrNoVideo = errors.New("session description has no RTP/AVP video media")

// Media is the video media of a session description.
type Media struct {
	PayloadType int
	// e.g. H264
	Encoding  string
	TimeScale int
	Control   string
}

// Description is a validated session description.
type Description struct {
	// served verbatim
	Raw   []byte
	Name  string
	Video *Media
}

/*
v=0
o=- 0 0 IN IP4 127.0.0.1
s=Stream
c=IN IP4 0.0.0.0
t=0 0
m=video 0 RTP/AVP 96
a=rtpmap:96 H264/90000
a=fmtp:96 profile-level-id=4D4033
*/

// Parse validates raw and extracts its video media.
func Parse(raw string) (*Description, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("invalid session description: %w", err)
	}

	d := &Description{
		Raw:  []byte(raw),
		Name: string(sd.SessionName),
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}

		if strings.Join(md.MediaName.Protos, "/") != "RTP/AVP" || len(md.MediaName.Formats) == 0 {
			continue
		}

		media, err := parseMedia(md)
		if err != nil {
			return nil, err
		}

		d.Video = media
		return d, nil
	}

	return nil, ErrNoVideo
}

func parseMedia(md *psdp.MediaDescription) (*Media, error) {
	payloadType, err := strconv.Atoi(md.MediaName.Formats[0])
	if err != nil || payloadType < 0 || payloadType > 127 {
		return nil, fmt.Errorf("invalid payload type '%s'", md.MediaName.Formats[0])
	}

	m := &Media{
		PayloadType: payloadType,
	}

	if control, ok := md.Attribute("control"); ok {
		m.Control = control
	}

	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}

		// a=rtpmap:96 H264/90000
		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) != 2 || fields[0] != md.MediaName.Formats[0] {
			continue
		}

		encoding := strings.Split(fields[1], "/")
		m.Encoding = encoding[0]
		if len(encoding) > 1 {
			m.TimeScale, err = strconv.Atoi(encoding[1])
			if err != nil {
				return nil, fmt.Errorf("invalid rtpmap '%s'", attr.Value)
			}
		}
	}

	if m.TimeScale == 0 {
		// https://tools.ietf.org/html/rfc3551
		m.TimeScale = 90000
	}

	return m, nil
}
