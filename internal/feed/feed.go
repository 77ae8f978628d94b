// Package feed reads face detections produced by an external detector.
//
// The detector (face detection plus embedding model) runs outside this
// process and publishes one JSON message per detected face, either over a
// websocket or to an MQTT topic.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ErrFeedFailure wraps every transport error of a feed. A session that sees
// it reconnects with backoff.
var ErrFeedFailure = errors.New("feed failure")

// ErrUnsupportedSource is returned by Dial for an unknown stream source scheme.
var ErrUnsupportedSource = errors.New("unsupported stream source")

var errClosed = errors.New("feed closed")

// Feed is a stream of detections from one camera.
type Feed interface {
	// Next blocks until the next detection, ctx is done or the transport fails.
	Next(ctx context.Context) (facematch.Detection, error)
	Close() error
}

// Source identifies a camera's detector stream.
type Source struct {
	CameraID string
	URL      string
	// FrameWidth and FrameHeight convert pixel positions to relative ones
	// when the detector reports pixels.
	FrameWidth  int
	FrameHeight int
}

// DialFunc opens a feed for a source.
type DialFunc func(ctx context.Context, src Source) (Feed, error)

// Dialer opens feeds by URL scheme: ws/wss for websocket detectors and
// mqtt/tcp/ssl/tls for MQTT detectors.
type Dialer struct {
	Log zerolog.Logger
	// ClientID prefixes MQTT client ids.
	ClientID string
}

// Dial implements DialFunc.
func (d Dialer) Dial(ctx context.Context, src Source) (Feed, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream source %q: %w", src.URL, err)
	}
	log := d.Log.With().Str("camera_id", src.CameraID).Logger()

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return DialWebSocket(ctx, src, log)
	case "mqtt", "tcp", "ssl", "tls", "mqtts":
		clientID := d.ClientID
		if clientID == "" {
			clientID = "face-attendance"
		}
		return DialMQTT(ctx, src, clientID+"-"+src.CameraID, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, u.Scheme)
	}
}

func failure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFeedFailure, op, err)
}
