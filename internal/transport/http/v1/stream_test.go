package v1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
)

func readSSE(t *testing.T, body io.Reader) []domain.StreamRecord {
	t.Helper()
	var out []domain.StreamRecord
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var rec domain.StreamRecord
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestStreamEventsEndsAfterFinished(t *testing.T) {
	e := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	runID := startRun(t, e, "package_delivery")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(srv.URL + "/scenarios/run/" + runID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the server closes the response after the finished record, so reading
	// to EOF terminates
	records := readSSE(t, resp.Body)
	require.NotEmpty(t, records)

	last := records[len(records)-1]
	assert.Equal(t, domain.RecordTypeFinished, last.Type)
	assert.Equal(t, domain.RunStatusCompleted, last.Status)
	require.NotNil(t, last.Score)
	for _, rec := range records[:len(records)-1] {
		assert.Equal(t, domain.RecordTypeAction, rec.Type)
		require.NotNil(t, rec.Action)
		assert.Equal(t, runID, rec.RunID)
	}
}

func TestStreamEventsAfterCompletion(t *testing.T) {
	e := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	runID := startRun(t, e, "quiet_street")
	waitCompleted(t, e, runID)

	resp, err := http.Get(srv.URL + "/scenarios/run/" + runID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	records := readSSE(t, resp.Body)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordTypeFinished, records[0].Type)
}

func TestStreamVideoMultipart(t *testing.T) {
	e := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	runID := startRun(t, e, "vehicle_arrival")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(srv.URL + "/scenarios/run/" + runID + "/video")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, VideoBoundary, params["boundary"])

	reader := multipart.NewReader(resp.Body, params["boundary"])
	parts := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

		data, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, stream.FrameStart))
		assert.True(t, bytes.HasSuffix(data, stream.FrameEnd))
		parts++
	}
	assert.Greater(t, parts, 0)
}

func TestStreamVideoAfterCompletionIsEmpty(t *testing.T) {
	e := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	runID := startRun(t, e, "quiet_street")
	waitCompleted(t, e, runID)

	resp, err := http.Get(srv.URL + "/scenarios/run/" + runID + "/video")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := multipart.NewReader(resp.Body, VideoBoundary)
	_, err = reader.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamWebSocket(t *testing.T) {
	e := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	runID := startRun(t, e, "pet_in_yard")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/scenarios/run/" + runID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var records []domain.StreamRecord
	for {
		var rec domain.StreamRecord
		err := conn.ReadJSON(&rec)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		records = append(records, rec)
	}

	require.NotEmpty(t, records)
	assert.Equal(t, domain.RecordTypeFinished, records[len(records)-1].Type)
}

func TestStreamWebSocketUnknownRun(t *testing.T) {
	e := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/scenarios/run/run_missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIsDisconnect(t *testing.T) {
	brokenPipe := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"canceled", context.Canceled, true},
		{"broken pipe", brokenPipe, true},
		{"wrapped broken pipe", fmt.Errorf("flush: %w", brokenPipe), true},
		{"reset", &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.ECONNRESET)}, true},
		{"closed conn", net.ErrClosed, true},
		{"close sent", websocket.ErrCloseSent, true},
		{"peer closed", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"marshal", errors.New("json: unsupported value"), false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isDisconnect(tc.err))
		})
	}
}

func TestLogStreamEndQuietOnDisconnect(t *testing.T) {
	e := echo.New()
	var buf bytes.Buffer
	e.Logger.SetOutput(&buf)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	brokenPipe := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}
	logStreamEnd(c, "event", "run_1", brokenPipe)
	assert.Empty(t, buf.String())

	logStreamEnd(c, "event", "run_1", errors.New("json: unsupported value"))
	assert.Contains(t, buf.String(), "event stream for run_1 ended")
}
