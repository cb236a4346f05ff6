package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/webrtc-camera/config"
)

const (
	trackID  = "camera"
	streamID = "camera-stream"
)

// Source feeds the shared track every branch is attached to.
type Source interface {
	Track() webrtc.TrackLocal
	// Run pumps media into the track until ctx is cancelled or the source fails.
	Run(ctx context.Context) error
}

var ivfFourCC = map[string]string{
	webrtc.MimeTypeVP8: "VP80",
	webrtc.MimeTypeVP9: "VP90",
	webrtc.MimeTypeAV1: "AV01",
}

// Preflight validates the media configuration without opening the source for
// streaming. It returns the parsed payload.
func Preflight(cfg config.MediaConfig) (Payload, error) {
	payload, err := ParsePayload(cfg.Payload)
	if err != nil {
		return Payload{}, err
	}

	u, err := url.Parse(cfg.Source)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}

	switch u.Scheme {
	case "udp":
		if _, err := net.ResolveUDPAddr("udp", u.Host); err != nil {
			return Payload{}, fmt.Errorf("invalid rtp listen address %q: %w", u.Host, err)
		}
	case "ivf":
		f, err := os.Open(ivfPath(u))
		if err != nil {
			return Payload{}, fmt.Errorf("failed to open ivf source: %w", err)
		}
		defer f.Close()
		_, header, err := ivfreader.NewWith(f)
		if err != nil {
			return Payload{}, fmt.Errorf("failed to read ivf header: %w", err)
		}
		if want, ok := ivfFourCC[payload.Codec.MimeType]; !ok || header.FourCC != want {
			return Payload{}, fmt.Errorf("%w: ivf file is %s, payload is %s", ErrInvalidPayload, header.FourCC, payload.Codec.MimeType)
		}
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnsupportedSource, u.Scheme)
	}

	return payload, nil
}

// NewSource builds the source named by cfg.Source.
func NewSource(cfg config.MediaConfig, payload Payload, log logrus.FieldLogger) (Source, error) {
	u, err := url.Parse(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}

	switch u.Scheme {
	case "udp":
		track, err := webrtc.NewTrackLocalStaticRTP(payload.Codec.RTPCodecCapability, trackID, streamID)
		if err != nil {
			return nil, err
		}
		bufSize := cfg.BufferSize
		if bufSize <= 0 {
			bufSize = 1500
		}
		return &rtpSource{
			addr:        u.Host,
			payloadType: uint8(payload.Codec.PayloadType),
			bufSize:     bufSize,
			track:       track,
			log:         log.WithField("source", cfg.Source),
		}, nil
	case "ivf":
		track, err := webrtc.NewTrackLocalStaticSample(payload.Codec.RTPCodecCapability, trackID, streamID)
		if err != nil {
			return nil, err
		}
		return &ivfSource{
			path:  ivfPath(u),
			track: track,
			log:   log.WithField("source", cfg.Source),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, u.Scheme)
	}
}

func ivfPath(u *url.URL) string {
	return u.Host + u.Path
}

// rtpSource listens for RTP on a UDP socket, e.g. fed by
// gst-launch ... ! rtpvp8pay ! udpsink port=5004.
type rtpSource struct {
	addr        string
	payloadType uint8
	bufSize     int
	track       *webrtc.TrackLocalStaticRTP
	log         logrus.FieldLogger
}

func (s *rtpSource) Track() webrtc.TrackLocal { return s.track }

func (s *rtpSource) Run(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen for rtp: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.log.Infof("Reading RTP from %s", conn.LocalAddr())

	buf := make([]byte, s.bufSize)
	pkt := &rtp.Packet{}
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rtp read failed: %w", err)
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.log.Debugf("Dropping malformed RTP packet: %v", err)
			continue
		}
		pkt.PayloadType = s.payloadType

		if err := s.track.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				continue
			}
			return fmt.Errorf("rtp write failed: %w", err)
		}
	}
}

// ivfSource replays an IVF file in a loop, paced by the file's timebase.
type ivfSource struct {
	path  string
	track *webrtc.TrackLocalStaticSample
	log   logrus.FieldLogger
}

func (s *ivfSource) Track() webrtc.TrackLocal { return s.track }

func (s *ivfSource) Run(ctx context.Context) error {
	for {
		if err := s.playOnce(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		s.log.Debug("IVF source reached end of file, rewinding")
	}
}

func (s *ivfSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open ivf source: %w", err)
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("failed to read ivf header: %w", err)
	}
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return fmt.Errorf("ivf file %s has zero timebase", s.path)
	}

	frameDuration := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ivf read failed: %w", err)
		}

		if err := s.track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				continue
			}
			return fmt.Errorf("sample write failed: %w", err)
		}
	}
}
