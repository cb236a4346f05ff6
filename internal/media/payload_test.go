package media

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name      string
		desc      string
		mime      string
		kind      webrtc.RTPCodecType
		pt        webrtc.PayloadType
		clockRate uint32
		channels  uint16
	}{
		{
			name:      "default vp8 caps",
			desc:      "application/x-rtp,media=video,encoding-name=VP8,payload=96",
			mime:      webrtc.MimeTypeVP8,
			kind:      webrtc.RTPCodecTypeVideo,
			pt:        96,
			clockRate: 90000,
		},
		{
			name:      "typed values and spaces",
			desc:      "application/x-rtp, media=(string)video, encoding-name=(string)H264, payload=(int)102",
			mime:      webrtc.MimeTypeH264,
			kind:      webrtc.RTPCodecTypeVideo,
			pt:        102,
			clockRate: 90000,
		},
		{
			name:      "opus with defaults",
			desc:      "application/x-rtp,media=audio,encoding-name=OPUS,payload=111",
			mime:      webrtc.MimeTypeOpus,
			kind:      webrtc.RTPCodecTypeAudio,
			pt:        111,
			clockRate: 48000,
			channels:  2,
		},
		{
			name:      "clock rate and channels override",
			desc:      "application/x-rtp,encoding-name=opus,payload=100,clock-rate=16000,encoding-params=1",
			mime:      webrtc.MimeTypeOpus,
			kind:      webrtc.RTPCodecTypeAudio,
			pt:        100,
			clockRate: 16000,
			channels:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload(tt.desc)
			if err != nil {
				t.Fatalf("ParsePayload(%q) failed: %v", tt.desc, err)
			}
			if p.Codec.MimeType != tt.mime {
				t.Errorf("mime = %s, want %s", p.Codec.MimeType, tt.mime)
			}
			if p.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", p.Kind, tt.kind)
			}
			if p.Codec.PayloadType != tt.pt {
				t.Errorf("payload type = %d, want %d", p.Codec.PayloadType, tt.pt)
			}
			if p.Codec.ClockRate != tt.clockRate {
				t.Errorf("clock rate = %d, want %d", p.Codec.ClockRate, tt.clockRate)
			}
			if p.Codec.Channels != tt.channels {
				t.Errorf("channels = %d, want %d", p.Codec.Channels, tt.channels)
			}
		})
	}
}

func TestParsePayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		desc string
	}{
		{"empty", ""},
		{"unknown encoding", "application/x-rtp,encoding-name=THEORA,payload=96"},
		{"missing payload", "application/x-rtp,encoding-name=VP8"},
		{"static payload type", "application/x-rtp,encoding-name=VP8,payload=8"},
		{"payload out of range", "application/x-rtp,encoding-name=VP8,payload=200"},
		{"media mismatch", "application/x-rtp,media=audio,encoding-name=VP8,payload=96"},
		{"bare token", "application/x-rtp,VP8,payload=96"},
		{"bad clock rate", "application/x-rtp,encoding-name=VP8,payload=96,clock-rate=fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePayload(tt.desc); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("ParsePayload(%q) = %v, want ErrInvalidPayload", tt.desc, err)
			}
		})
	}
}
