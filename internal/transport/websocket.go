package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
)

const closeGracePeriod = time.Second

// WebSocket carries frames as binary WebSocket messages.
type WebSocket struct {
	conn    *websocket.Conn
	metrics *monitoring.Metrics

	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, metrics *monitoring.Metrics) *WebSocket {
	return &WebSocket{
		conn:    conn,
		metrics: metrics,
		closed:  make(chan struct{}),
	}
}

// ReadFrame returns the next binary message. Text messages are skipped. A
// normal close by the peer reads as io.EOF.
func (w *WebSocket) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closed:
				return nil, ErrClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		w.metrics.RecordWSMessage("in")
		return data, nil
	}
}

// WriteFrame sends data as one binary message. Writes are serialized.
func (w *WebSocket) WriteFrame(ctx context.Context, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	w.metrics.RecordWSMessage("out")
	return nil
}

// Close sends a close message and closes the connection.
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)

		// WriteControl may run concurrently with a blocked WriteFrame; the
		// deadline bounds the wait and Close then unblocks the writer.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))

		err = w.conn.Close()
	})
	return err
}
