package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
	wsWriteWait  = 10 * time.Second
)

// handleWebSocket 通过 WebSocket 续传：每条事件一帧 JSON，流结束后正常关闭连接。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	record, reader, ok := h.resume(w, r)
	if !ok {
		return
	}
	defer reader.Close()

	logger := logging.From(r.Context()).With(zap.String("stream_id", record.StreamID))

	conn, err := h.upgrader.Upgrade(w, r, http.Header{"X-Stream-ID": []string{record.StreamID}})
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// The client sends nothing; reading surfaces close frames and dead peers.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	go pingLoop(ctx, conn)

	for {
		ev, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			deadline := time.Now().Add(wsWriteWait)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("stream read failed", zap.Error(err))
			}
			return
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket write failed", zap.Error(err))
			}
			return
		}
	}
}

// pingLoop keeps idle connections alive while the turn is thinking. Control
// frames may be written concurrently with WriteJSON.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
