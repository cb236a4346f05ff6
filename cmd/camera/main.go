package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/mossy-p/webrtc-camera/config"
	"github.com/mossy-p/webrtc-camera/internal/auth"
	"github.com/mossy-p/webrtc-camera/internal/camera"
	"github.com/mossy-p/webrtc-camera/internal/handlers"
	"github.com/mossy-p/webrtc-camera/internal/logger"
	"github.com/mossy-p/webrtc-camera/internal/loop"
	"github.com/mossy-p/webrtc-camera/internal/media"
	"github.com/mossy-p/webrtc-camera/internal/redis"
	"github.com/mossy-p/webrtc-camera/internal/signalling"
)

const (
	exitOK      = 0
	exitStartup = -1
)

func main() {
	os.Exit(run())
}

func run() int {
	localID := flag.String("local-id", "", "camera identifier sent with JOIN_CAMERA")
	server := flag.String("server", "", "signalling server URL (ws:// or wss://)")
	source := flag.String("source", "", "media source, udp://host:port or ivf:///path/to/file.ivf")
	payload := flag.String("payload", "", "RTP caps of the source, e.g. application/x-rtp,media=video,encoding-name=VP8,payload=96")
	statusAddr := flag.String("status-addr", "", "status API listen address, empty disables")
	configPath := flag.String("config", "", "TOML config file applied over the environment")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		return exitStartup
	}
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			log.Errorf("Failed to load configuration: %v", err)
			return exitStartup
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "local-id":
			cfg.CameraID = *localID
		case "server":
			cfg.ServerURL = *server
		case "source":
			cfg.Media.Source = *source
		case "payload":
			cfg.Media.Payload = *payload
		case "status-addr":
			cfg.StatusAddr = *statusAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Errorf("Invalid configuration: %v", err)
		return exitStartup
	}

	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Errorf("Failed to create logger: %v", err)
		return exitStartup
	}

	mediaPayload, err := media.Preflight(cfg.Media)
	if err != nil {
		l.Errorf("Media preflight failed: %v", err)
		return exitStartup
	}
	src, err := media.NewSource(cfg.Media, mediaPayload, l)
	if err != nil {
		l.Errorf("Failed to create media source: %v", err)
		return exitStartup
	}

	header := http.Header{}
	if cfg.JWTSecret != "" {
		token, err := auth.IssueToken(cfg.JWTSecret, cfg.CameraID, cfg.TokenTTL)
		if err != nil {
			l.Errorf("Failed to issue signalling token: %v", err)
			return exitStartup
		}
		header.Set("Authorization", "Bearer "+token)
	}

	var presence camera.Presence
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(cfg.Redis)
		if err != nil {
			l.Errorf("Failed to connect to Redis: %v", err)
			return exitStartup
		}
		defer client.Close()
		presence = redis.NewPresence(client, cfg.CameraID, cfg.Redis.TTL, l)
		l.Println("Redis connection established")
	}

	events := loop.New()
	var cam *camera.Camera
	engine, err := media.NewPion(mediaPayload, src, events.Post, media.Options{
		ICEServers:    cfg.Media.ICEServers,
		LoggerFactory: logger.PionFactory(l),
		SourceFailed: func(err error) {
			cam.Fail(fmt.Errorf("media source: %w", err))
		},
	}, l)
	if err != nil {
		l.Errorf("Failed to create media engine: %v", err)
		return exitStartup
	}

	cam = camera.New(cfg, camera.Deps{
		Loop:  events,
		Media: engine,
		Dial: func(h signalling.Handlers) camera.Channel {
			return signalling.NewClient(cfg.ServerURL, header, cfg.Signalling, h, l)
		},
		Presence: presence,
		Log:      l,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var statusServer *http.Server
	if cfg.StatusAddr != "" {
		if cfg.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		statusServer = &http.Server{
			Addr:    cfg.StatusAddr,
			Handler: handlers.NewRouter(cfg, cam),
		}
		go func() {
			l.Infof("Status API listening on %s", cfg.StatusAddr)
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Errorf("Status API stopped: %v", err)
			}
		}()
	}

	runErr := cam.Run(ctx)

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			l.Warnf("Status API shutdown: %v", err)
		}
	}

	code := exitCode(runErr)
	switch {
	case code == exitStartup:
		l.Errorf("Camera failed to start: %v", runErr)
	case runErr != nil:
		l.Errorf("Camera stopped: %v", runErr)
	}
	return code
}

// exitCode is negative when the camera never got to serve peers and zero
// otherwise, including after a fatal error at runtime.
func exitCode(err error) int {
	if errors.Is(err, camera.ErrStartup) {
		return exitStartup
	}
	return exitOK
}
