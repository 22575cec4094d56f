package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/careerct/room-whisper-sync/internal/blob"
	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/memstore"
	"github.com/careerct/room-whisper-sync/internal/metrics"
	"github.com/careerct/room-whisper-sync/internal/pubsub"
	"github.com/careerct/room-whisper-sync/internal/roomsync"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type ServerTestSuite struct {
	suite.Suite
	backend *memstore.Store
	coord   *roomsync.Coordinator
	blobs   *blob.Store
	server  *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	s.backend = memstore.New(pubsub.NewWatermillBridge())
	s.blobs = blob.NewStore(afero.NewMemMapFs(), "http://localhost:8080/files")
	reg := prometheus.NewRegistry()

	var err error
	s.coord, err = roomsync.New(s.backend, roomsync.StaticIdentity("alice"),
		roomsync.WithUploader(s.blobs),
		roomsync.WithMetrics(metrics.New(reg)),
		roomsync.WithTypingTimings(20*time.Millisecond, 150*time.Millisecond),
	)
	s.Require().NoError(err)

	s.server = New(s.coord,
		WithFiles(s.blobs),
		WithRegistry(reg),
		WithTypingRate(1),
		WithMaxUploadBytes(1024),
	)
}

func (s *ServerTestSuite) TearDownTest() {
	s.coord.CloseRoom()
	s.Require().NoError(s.backend.Close())
}

func (s *ServerTestSuite) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.server.E.ServeHTTP(rec, req)
	return rec
}

func (s *ServerTestSuite) open(room string) {
	s.Require().Equal(http.StatusNoContent, s.do(http.MethodPost, "/rooms/"+room+"/join", nil).Code)
	rec := s.do(http.MethodPost, "/rooms/"+room+"/open", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp RoomResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(room, resp.RoomID)
	s.Equal(string(roomsync.StateOpen), resp.State)
}

func (s *ServerTestSuite) snapshot() domain.RoomSnapshot {
	rec := s.do(http.MethodGet, "/snapshot", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var snap domain.RoomSnapshot
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func (s *ServerTestSuite) waitMessages(n int) domain.RoomSnapshot {
	var snap domain.RoomSnapshot
	s.Require().Eventually(func() bool {
		snap = s.snapshot()
		return len(snap.Messages) == n
	}, waitFor, tick)
	return snap
}

func (s *ServerTestSuite) TestSnapshotRequiresOpenRoom() {
	rec := s.do(http.MethodGet, "/snapshot", nil)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/messages", SendMessageRequest{Content: "hi"})
	s.Equal(http.StatusConflict, rec.Code)
	var resp ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("not_open", resp.Code)
}

func (s *ServerTestSuite) TestSendAndToggleReaction() {
	s.open("general")

	s.Equal(http.StatusAccepted, s.do(http.MethodPost, "/messages", SendMessageRequest{Content: "hello"}).Code)
	snap := s.waitMessages(1)
	id := snap.Messages[0].ID

	rec := s.do(http.MethodPost, "/reactions/toggle", ReactionRequest{MessageID: id, Emoji: "👍"})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"action":"added"}`, rec.Body.String())

	s.Require().Eventually(func() bool {
		m := s.snapshot().Messages
		return len(m) == 1 && len(m[0].ReactionCounts) == 1 && m[0].ReactionCounts[0].ReactedByCurrentUser
	}, waitFor, tick)

	rec = s.do(http.MethodPost, "/reactions/toggle", ReactionRequest{MessageID: id, Emoji: "👍"})
	s.JSONEq(`{"action":"removed"}`, rec.Body.String())

	s.Require().Eventually(func() bool {
		m := s.snapshot().Messages
		return len(m) == 1 && len(m[0].ReactionCounts) == 0
	}, waitFor, tick)
}

func (s *ServerTestSuite) TestAddAndRemoveReaction() {
	s.open("general")
	s.do(http.MethodPost, "/messages", SendMessageRequest{Content: "hello"})
	id := s.waitMessages(1).Messages[0].ID

	s.Equal(http.StatusAccepted, s.do(http.MethodPost, "/reactions", ReactionRequest{MessageID: id, Emoji: "🎉"}).Code)
	// Duplicate add is absorbed.
	s.Equal(http.StatusAccepted, s.do(http.MethodPost, "/reactions", ReactionRequest{MessageID: id, Emoji: "🎉"}).Code)
	s.Equal(http.StatusAccepted, s.do(http.MethodDelete, "/reactions", ReactionRequest{MessageID: id, Emoji: "🎉"}).Code)

	rec := s.do(http.MethodPost, "/reactions", ReactionRequest{MessageID: id})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestSendValidation() {
	s.open("general")
	rec := s.do(http.MethodPost, "/messages", SendMessageRequest{Content: "   "})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestTypingIsRateLimited() {
	s.open("general")

	rec := s.do(http.MethodPost, "/typing", nil)
	s.Require().Equal(http.StatusAccepted, rec.Code)
	s.JSONEq(`{"debounced":false}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/typing", nil)
	s.JSONEq(`{"debounced":true}`, rec.Body.String())
}

func (s *ServerTestSuite) TestUploadAndServeFile() {
	s.open("general")

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	s.Require().NoError(w.WriteField("content", "see attached"))
	part, err := w.CreateFormFile("file", "notes.txt")
	s.Require().NoError(err)
	_, _ = part.Write([]byte("file body"))
	s.Require().NoError(w.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.server.E.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())

	snap := s.waitMessages(1)
	att := snap.Messages[0].Attachment
	s.Require().NotNil(att)
	s.Equal("notes.txt", att.Name)

	path := strings.TrimPrefix(att.URL, "http://localhost:8080")
	rec = s.do(http.MethodGet, path, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("file body", rec.Body.String())
	s.Contains(rec.Header().Get(echo.HeaderContentType), "text/plain")

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/files/alice/missing.txt", nil).Code)
}

func (s *ServerTestSuite) TestUploadTooLarge() {
	s.open("general")

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "big.bin")
	s.Require().NoError(err)
	_, _ = part.Write(bytes.Repeat([]byte("x"), 2048))
	s.Require().NoError(w.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.server.E.ServeHTTP(rec, req)
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

func (s *ServerTestSuite) TestMetricsEndpoint() {
	s.open("general")
	rec := s.do(http.MethodGet, "/metrics", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "roomsync_snapshots_published_total")
	s.Contains(rec.Body.String(), "roomsync_http_requests_total")
}

func (s *ServerTestSuite) TestCloseRoom() {
	s.open("general")
	s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/rooms/close", nil).Code)
	s.Equal(roomsync.StateClosed, s.coord.State())
	s.Equal(http.StatusConflict, s.do(http.MethodGet, "/snapshot", nil).Code)
}

func (s *ServerTestSuite) TestWebsocketStreamsSnapshots() {
	s.open("general")

	ts := httptest.NewServer(s.server.E)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	s.Require().NoError(err)
	defer func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()
	_ = conn.SetReadDeadline(time.Now().Add(waitFor))

	var first domain.RoomSnapshot
	s.Require().NoError(conn.ReadJSON(&first))
	s.Equal("general", first.RoomID)

	s.Require().NoError(s.coord.SendMessage(ctx, "streamed", nil))
	for {
		var snap domain.RoomSnapshot
		s.Require().NoError(conn.ReadJSON(&snap))
		if len(snap.Messages) == 1 {
			s.Equal("streamed", snap.Messages[0].Content)
			return
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrNotOpen, http.StatusConflict, "not_open"},
		{domain.ErrSessionClosed, http.StatusConflict, "session_closed"},
		{&domain.SendError{Op: "upload", Err: blob.ErrTooLarge}, http.StatusRequestEntityTooLarge, "too_large"},
		{&domain.SendError{Op: "upload", Err: roomsync.ErrNoUploader}, http.StatusNotImplemented, "uploads_disabled"},
		{&domain.SendError{Op: "send_message", Err: &domain.ValidationError{Err: assert.AnError}}, http.StatusBadRequest, "invalid_input"},
		{&domain.FetchError{Resource: "messages", Err: assert.AnError}, http.StatusBadGateway, "fetch_failed"},
		{&domain.SendError{Op: "mark_typing", Err: assert.AnError}, http.StatusBadGateway, "send_failed"},
		{assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestRequestLogger_InjectsLogger(t *testing.T) {
	e := echo.New()
	var got bool
	h := RequestLogger(FromContext(context.Background()))(func(c echo.Context) error {
		got = FromContext(c.Request().Context()) != nil
		return c.NoContent(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)))
	assert.True(t, got)
}
