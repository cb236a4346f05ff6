package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
)

type encoding struct {
	mime      string
	kind      webrtc.RTPCodecType
	clockRate uint32
	channels  uint16
	fmtp      string
}

var encodings = map[string]encoding{
	"VP8":  {mime: webrtc.MimeTypeVP8, kind: webrtc.RTPCodecTypeVideo, clockRate: 90000},
	"VP9":  {mime: webrtc.MimeTypeVP9, kind: webrtc.RTPCodecTypeVideo, clockRate: 90000, fmtp: "profile-id=0"},
	"AV1":  {mime: webrtc.MimeTypeAV1, kind: webrtc.RTPCodecTypeVideo, clockRate: 90000},
	"H264": {mime: webrtc.MimeTypeH264, kind: webrtc.RTPCodecTypeVideo, clockRate: 90000, fmtp: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
	"OPUS": {mime: webrtc.MimeTypeOpus, kind: webrtc.RTPCodecTypeAudio, clockRate: 48000, channels: 2},
	"PCMU": {mime: webrtc.MimeTypePCMU, kind: webrtc.RTPCodecTypeAudio, clockRate: 8000},
	"PCMA": {mime: webrtc.MimeTypePCMA, kind: webrtc.RTPCodecTypeAudio, clockRate: 8000},
}

// Payload is the codec the shared track carries.
type Payload struct {
	Kind   webrtc.RTPCodecType
	Codec  webrtc.RTPCodecParameters
	Source string
}

// ParsePayload reads an RTP caps description such as
//
//	application/x-rtp,media=video,encoding-name=VP8,payload=96
//
// encoding-name and payload are required; clock-rate and encoding-params
// (channels) default per encoding.
func ParsePayload(desc string) (Payload, error) {
	fields := map[string]string{}
	for i, part := range strings.Split(desc, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			if i == 0 && part == "application/x-rtp" {
				continue
			}
			return Payload{}, fmt.Errorf("%w: unexpected %q", ErrInvalidPayload, part)
		}
		// caps allow an optional (type) prefix on values, e.g. payload=(int)96
		if strings.HasPrefix(value, "(") {
			if end := strings.Index(value, ")"); end > 0 {
				value = value[end+1:]
			}
		}
		fields[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}

	name := strings.ToUpper(fields["encoding-name"])
	enc, ok := encodings[name]
	if !ok {
		return Payload{}, fmt.Errorf("%w: unsupported encoding-name %q", ErrInvalidPayload, fields["encoding-name"])
	}
	if media, ok := fields["media"]; ok && media != enc.kind.String() {
		return Payload{}, fmt.Errorf("%w: media=%s does not match %s", ErrInvalidPayload, media, name)
	}

	pt, err := strconv.ParseUint(fields["payload"], 10, 8)
	if err != nil || pt < 96 || pt > 127 {
		return Payload{}, fmt.Errorf("%w: payload must be a dynamic type 96-127, got %q", ErrInvalidPayload, fields["payload"])
	}

	clockRate := enc.clockRate
	if v, ok := fields["clock-rate"]; ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return Payload{}, fmt.Errorf("%w: bad clock-rate %q", ErrInvalidPayload, v)
		}
		clockRate = uint32(n)
	}

	channels := enc.channels
	if v, ok := fields["encoding-params"]; ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: bad encoding-params %q", ErrInvalidPayload, v)
		}
		channels = uint16(n)
	}

	return Payload{
		Kind: enc.kind,
		Codec: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    enc.mime,
				ClockRate:   clockRate,
				Channels:    channels,
				SDPFmtpLine: enc.fmtp,
			},
			PayloadType: webrtc.PayloadType(pt),
		},
		Source: desc,
	}, nil
}
