package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ErrMalformed is returned by Decode for messages that are not a usable detection.
var ErrMalformed = errors.New("malformed detection message")

// message is the wire format of one detection. The position is either given
// directly or derived from a bounding box; pixel coordinates are converted
// using the frame size from the message or the source.
type message struct {
	CameraID    string           `json:"camera_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Vector      []float32        `json:"vector"`
	Quality     *float64         `json:"quality_score"`
	Position    *facematch.Point `json:"position"`
	BBox        []float64        `json:"bbox"`
	FrameWidth  int              `json:"frame_width"`
	FrameHeight int              `json:"frame_height"`
}

// Decode parses one detection message for src. Missing timestamps are
// filled with now; a camera id in the message must match the source.
func Decode(data []byte, src Source, now time.Time) (facematch.Detection, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return facematch.Detection{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.CameraID != "" && msg.CameraID != src.CameraID {
		return facematch.Detection{}, fmt.Errorf("%w: camera %q on feed of %q", ErrMalformed, msg.CameraID, src.CameraID)
	}
	if len(msg.Vector) == 0 {
		return facematch.Detection{}, fmt.Errorf("%w: empty vector", ErrMalformed)
	}
	if msg.Quality == nil {
		return facematch.Detection{}, fmt.Errorf("%w: missing quality_score", ErrMalformed)
	}

	var pos facematch.Point
	switch {
	case msg.Position != nil:
		pos = *msg.Position
	case msg.BBox != nil:
		center, ok := facematch.BBoxCenter(msg.BBox)
		if !ok {
			return facematch.Detection{}, fmt.Errorf("%w: invalid bbox %v", ErrMalformed, msg.BBox)
		}
		pos = center
	default:
		return facematch.Detection{}, fmt.Errorf("%w: no position or bbox", ErrMalformed)
	}

	if pos.X > 1 || pos.Y > 1 {
		w, h := msg.FrameWidth, msg.FrameHeight
		if w <= 0 || h <= 0 {
			w, h = src.FrameWidth, src.FrameHeight
		}
		if w <= 0 || h <= 0 {
			return facematch.Detection{}, fmt.Errorf("%w: pixel position without frame size", ErrMalformed)
		}
		pos = facematch.ConvertPixelPointToRelative(pos, w, h)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return facematch.Detection{
		CameraID:  src.CameraID,
		Timestamp: ts,
		Vector:    msg.Vector,
		Quality:   *msg.Quality,
		Position:  pos,
	}, nil
}
