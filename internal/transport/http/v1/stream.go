package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
)

const (
	// VideoBoundary separates JPEG parts on the video stream.
	VideoBoundary = "frame"

	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 20 * time.Second
)

// StreamEvents streams a run's action and finished records as server-sent
// events. The response ends after the finished record.
// GET /scenarios/run/:run_id/stream
func (h *Handler) StreamEvents(c echo.Context) error {
	ctx := c.Request().Context()
	sub, err := h.service.SubscribeEvents(ctx, c.Param("run_id"))
	if err != nil {
		return writeError(c, err)
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		sub.Cancel()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	err = stream.DrainEvents(ctx, sub, func(rec domain.StreamRecord) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// headers are gone, nothing left to tell the client
		logStreamEnd(c, "event", c.Param("run_id"), err)
	}
	return nil
}

// StreamVideo streams a run's frames as multipart JPEG parts. A run that has
// already finished yields an empty, finite stream.
// GET /scenarios/run/:run_id/video
func (h *Handler) StreamVideo(c echo.Context) error {
	ctx := c.Request().Context()
	sub, err := h.service.SubscribeVideo(ctx, c.Param("run_id"))
	if err != nil {
		return writeError(c, err)
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		sub.Cancel()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}

	mw := multipart.NewWriter(c.Response().Writer)
	if err := mw.SetBoundary(VideoBoundary); err != nil {
		sub.Cancel()
		return writeError(c, err)
	}

	c.Response().Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+VideoBoundary)
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	err = stream.DrainFrames(ctx, sub, func(f stream.Frame) error {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(f.Data))},
		})
		if err != nil {
			return err
		}
		if _, err := part.Write(f.Data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logStreamEnd(c, "video", c.Param("run_id"), err)
		return nil
	}

	_ = mw.Close()
	flusher.Flush()
	return nil
}

// StreamWebSocket mirrors the event stream over a websocket. Each record is
// one text message; the server closes normally after the finished record.
// GET /scenarios/run/:run_id/ws
func (h *Handler) StreamWebSocket(c echo.Context) error {
	runID := c.Param("run_id")
	sub, err := h.service.SubscribeEvents(c.Request().Context(), runID)
	if err != nil {
		return writeError(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the client
		sub.Cancel()
		c.Logger().Errorf("failed to upgrade websocket for %s: %v", runID, err)
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Clients send nothing useful; reading keeps control frames flowing and
	// notices when the peer goes away.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err = stream.DrainEvents(ctx, sub, func(rec domain.StreamRecord) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(rec)
	})
	if err != nil {
		logStreamEnd(c, "websocket", runID, err)
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	return nil
}

// logStreamEnd reports a stream cut short. Observers leaving is routine and
// only shows up at debug level.
func logStreamEnd(c echo.Context, kind, runID string, err error) {
	if isDisconnect(err) {
		c.Logger().Debugf("%s stream for %s: observer disconnected: %v", kind, runID, err)
		return
	}
	c.Logger().Errorf("%s stream for %s ended: %v", kind, runID, err)
}

// isDisconnect reports whether err means the observer went away.
func isDisconnect(err error) bool {
	var closeErr *websocket.CloseError
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.As(err, &closeErr)
}
