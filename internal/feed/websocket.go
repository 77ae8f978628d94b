package feed

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const handshakeTimeout = 10 * time.Second

// WebSocket reads detections from a websocket detector.
type WebSocket struct {
	src  Source
	conn *websocket.Conn
	log  zerolog.Logger
}

// DialWebSocket connects to the detector at src.URL.
func DialWebSocket(ctx context.Context, src Source, log zerolog.Logger) (*WebSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, src.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, failure("dial "+src.URL, err)
	}
	return &WebSocket{src: src, conn: conn, log: log}, nil
}

// Next returns the next well-formed detection. Malformed messages are logged
// and skipped.
func (w *WebSocket) Next(ctx context.Context) (facematch.Detection, error) {
	// ReadMessage ignores contexts; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { w.conn.Close() })
	defer stop()

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return facematch.Detection{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return facematch.Detection{}, failure("detector closed stream", err)
			}
			return facematch.Detection{}, failure("read", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		d, err := Decode(data, w.src, time.Now())
		if err != nil {
			w.log.Warn().Err(err).Msg("skipping detection message")
			continue
		}
		return d, nil
	}
}

// Close closes the connection, sending a close frame first.
func (w *WebSocket) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := w.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
