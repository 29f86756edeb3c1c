package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l4state"
	"github.com/banshee-data/lane.report/internal/lane/pipeline"
	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// straightPNG encodes a w×h mask with two 4-pixel-wide vertical lines.
func straightPNG(t *testing.T, w, h, left, right int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for _, x0 := range []int{left, right} {
			for x := x0; x < x0+4 && x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestServer(t *testing.T, withStore bool) (*Server, *gin.Engine) {
	t.Helper()
	var store *sqlite.RunStore
	if withStore {
		db, err := sqlite.Open(filepath.Join(t.TempDir(), "lanes.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		store = sqlite.NewRunStore(db)
	}
	srv := NewServer(config.DefaultTuningConfig(), store, nil)
	return srv, srv.Router()
}

func do(t *testing.T, r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, r http.Handler) createSessionResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"source":"test"}`))
	req.Header.Set("Content-Type", "application/json")
	w := do(t, r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp
}

func postRaw(t *testing.T, r http.Handler, id string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/frames", bytes.NewReader(body))
	req.Header.Set("Content-Type", "image/png")
	return do(t, r, req)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, false)

	w := do(t, r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	want := map[string]interface{}{"status": "ok", "version": "dev", "sessions": float64(0)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("health mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionLifecycle_InMemory(t *testing.T) {
	t.Parallel()
	srv, r := newTestServer(t, false)

	created := createSession(t, r)
	assert.Empty(t, created.RunID, "no store, no run")
	assert.Equal(t, 1, srv.Registry().Len())

	w := postRaw(t, r, created.SessionID, straightPNG(t, 1280, 720, 300, 1000))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res pipeline.FrameResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 0, res.FrameIndex)
	assert.False(t, res.Frozen)
	assert.Equal(t, l4state.StatusTracking, res.Left.Status)
	assert.Equal(t, l4state.StatusTracking, res.Right.Status)
	assert.Equal(t, "left", res.Offset.Direction)
	assert.Equal(t, "Vehicle is 0.05 m left of center", res.OffsetLabel())

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var st sessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Frames)
	assert.Equal(t, 0, st.FrozenFrames)
	assert.Equal(t, 1, st.Left.FitCount)
	require.NotNil(t, st.Last)
	assert.Equal(t, 0, st.Last.FrameIndex)

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []string `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	if diff := cmp.Diff([]string{created.SessionID}, list.Sessions); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/chart", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "echarts")

	w = do(t, r, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, srv.Registry().Len())

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostFrame_Multipart(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, false)
	created := createSession(t, r)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("mask", "frame_0001.png")
	require.NoError(t, err)
	_, err = fw.Write(straightPNG(t, 640, 360, 150, 500))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/frames", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(t, r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res pipeline.FrameResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 640, res.Width)
	assert.Equal(t, 360, res.Height)
}

func TestPostFrame_MultipartMissingField(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, false)
	created := createSession(t, r)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/frames", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(t, r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "mask")
}

func TestPostFrame_BadRequests(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, false)
	created := createSession(t, r)

	w := postRaw(t, r, created.SessionID, []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postRaw(t, r, created.SessionID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postRaw(t, r, "no-such-session", straightPNG(t, 64, 32, 10, 40))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostFrame_SizeChangeIsFrozen(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, false)
	created := createSession(t, r)

	w := postRaw(t, r, created.SessionID, straightPNG(t, 1280, 720, 300, 1000))
	require.Equal(t, http.StatusOK, w.Code)

	w = postRaw(t, r, created.SessionID, straightPNG(t, 640, 360, 150, 500))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	var body struct {
		Error  string                `json:"error"`
		Result *pipeline.FrameResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	require.NotNil(t, body.Result)
	assert.True(t, body.Result.Frozen)
	assert.Equal(t, 1, body.Result.FrameIndex)
	assert.Equal(t, 1280, body.Result.Width)
}

func TestPostFrame_OversizedImageRejectedBeforeDecode(t *testing.T) {
	t.Parallel()
	srv, r := newTestServer(t, false)
	created := createSession(t, r)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8000, 8000))))
	require.Less(t, buf.Len(), 1<<20, "all-zero image compresses well")

	w := postRaw(t, r, created.SessionID, buf.Bytes())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "8000x8000 exceeds 4096x4096")

	err := srv.Registry().With(created.SessionID, func(s *pipeline.Session) error {
		assert.Equal(t, 0, s.FrameCount(), "rejected upload never reaches the session")
		return nil
	})
	require.NoError(t, err)
}

func TestPostFrame_LargerThanConfiguredFrameRejected(t *testing.T) {
	t.Parallel()
	tc := config.DefaultTuningConfig()
	w0, h0 := 640, 360
	tc.FrameWidth = &w0
	tc.FrameHeight = &h0
	r := NewServer(tc, nil, nil).Router()
	created := createSession(t, r)

	w := postRaw(t, r, created.SessionID, straightPNG(t, 1280, 720, 300, 1000))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds 640x360")

	w = postRaw(t, r, created.SessionID, straightPNG(t, 640, 360, 150, 500))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPostFrame_FirstFrameRejectedHasNoResult(t *testing.T) {
	t.Parallel()
	tc := config.DefaultTuningConfig()
	w0, h0 := 1280, 720
	tc.FrameWidth = &w0
	tc.FrameHeight = &h0
	srv := NewServer(tc, nil, nil)
	r := srv.Router()
	created := createSession(t, r)

	w := postRaw(t, r, created.SessionID, straightPNG(t, 640, 360, 150, 500))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.NotContains(t, w.Body.String(), `"result"`)
}

func TestSessionLifecycle_WithStore(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, true)

	created := createSession(t, r)
	require.NotEmpty(t, created.RunID)

	for i := 0; i < 3; i++ {
		w := postRaw(t, r, created.SessionID, straightPNG(t, 1280, 720, 300, 1000))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := postRaw(t, r, created.SessionID, straightPNG(t, 640, 360, 150, 500))
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+created.RunID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var run sqlite.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, sqlite.RunStatusCompleted, run.Status)
	assert.Equal(t, 4, run.FrameCount)
	assert.Equal(t, 1, run.FrozenCount)
	assert.Equal(t, "test", run.Source)
	assert.Equal(t, created.SessionID, run.SessionID)

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var runs struct {
		Runs []sqlite.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+created.RunID+"/chart", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "echarts")

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns_NoStore(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, false)

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/x", "/api/v1/runs/x/chart"} {
		w := do(t, r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestCreateSession_BadBody(t *testing.T) {
	t.Parallel()
	_, r := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	w := do(t, r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistry_ConcurrentFramesSerialised(t *testing.T) {
	t.Parallel()
	srv, r := newTestServer(t, false)
	created := createSession(t, r)
	frame := straightPNG(t, 320, 180, 80, 250)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			postRaw(t, r, created.SessionID, frame)
		}()
	}
	wg.Wait()

	err := srv.Registry().With(created.SessionID, func(s *pipeline.Session) error {
		assert.Equal(t, 8, s.FrameCount())
		assert.Len(t, s.Records(), 8)
		return nil
	})
	require.NoError(t, err)
}

func TestRegistry_NotFound(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	err := reg.With("missing", func(*pipeline.Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = reg.Remove("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err := pipeline.NewSession(pipeline.SessionConfig{ID: "dup"})
	require.NoError(t, err)
	require.NoError(t, reg.Add(s, ""))
	assert.Error(t, reg.Add(s, ""))
}

func TestLoggingMiddleware_JSONHasNoEscapes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	r := NewServer(nil, nil, logger).Router()
	do(t, r, httptest.NewRequest(http.MethodGet, "/health", nil))
	do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.NotContains(t, line, "\\u001b")
		assert.NotContains(t, line, "\033")
	}

	var ok, missing map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &missing))
	assert.Equal(t, "200 GET /health", ok["msg"])
	assert.Equal(t, float64(200), ok["status"])
	assert.Equal(t, "info", ok["level"])
	assert.Equal(t, float64(404), missing["status"])
	assert.Equal(t, "warning", missing["level"])
}
