package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/inference/enginetest"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newPipeline(t *testing.T, engine inference.Engine) *inference.Pipeline {
	t.Helper()
	p, err := inference.NewPipelineBuilder().
		WithEngine(engine).
		WithModel(model.NewModelArgs{Name: model.ModelNameClassifier, Config: model.DefaultClassifierConfig()}).
		WithLabelTable(labels.New("cat", "dog", "bird", "fish")).
		WithStatLogging(true, 16).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(8, 6, color.NRGBA{R: 200, A: 255}), imaging.PNG))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, "frame.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := New(nil, Options{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRecognize_Multipart(t *testing.T) {
	engine := enginetest.NewClassifier(2, 2, 0.05, 0.9, 0.3, 0.05)
	s := New(newPipeline(t, engine), Options{Logger: logging.NewTestLogger(t)})

	rec := serve(s, multipartRequest(t, "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.Equal(t, []postprocess.Result{
		{ID: "1", Label: "dog", Confidence: 0.9},
		{ID: "2", Label: "bird", Confidence: 0.3},
	}, resp.Results)
	assert.GreaterOrEqual(t, resp.ElapsedMS, 0.0)
	assert.Equal(t, 1, engine.Runs())
}

func TestRecognize_RawBody(t *testing.T) {
	s := New(newPipeline(t, enginetest.NewClassifier(2, 2, 0.05, 0.9, 0.3, 0.05)), Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t)))
	req.Header.Set("Content-Type", "image/png")
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec).Results, 2)
}

func TestRecognize_EmptyResultsAreAList(t *testing.T) {
	s := New(newPipeline(t, enginetest.NewClassifier(2, 2, 0, 0, 0, 0)), Options{})

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestRecognize_BadRequests(t *testing.T) {
	s := New(newPipeline(t, enginetest.NewClassifier(2, 2, 0.9)), Options{})

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/recognize", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body")

	rec = serve(s, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader([]byte("not an image"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "undecodable body")

	rec = serve(s, multipartRequest(t, "file", pngBytes(t)))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "wrong form field")

	small := New(newPipeline(t, enginetest.NewClassifier(2, 2, 0.9)), Options{MaxUploadBytes: 16})
	rec = serve(small, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "oversized body")
}

func TestRecognize_Failures(t *testing.T) {
	engine := enginetest.NewClassifier(2, 2, 0.9)
	p := newPipeline(t, engine)
	s := New(p, Options{})

	engine.FailWith(errors.New("device lost"))
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "device lost")

	require.NoError(t, p.Close())
	rec = serve(s, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(New(nil, Options{}), httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecognize_Pool(t *testing.T) {
	pool, err := inference.NewPool(
		newPipeline(t, enginetest.NewClassifier(2, 2, 0.05, 0.9)),
		newPipeline(t, enginetest.NewClassifier(2, 2, 0.05, 0.9)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	s := New(pool, Options{})

	for i := 0; i < 4; i++ {
		rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dog", decode(t, rec).Results[0].Label)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pool.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))).WithContext(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, req).Code)
}

func TestStats(t *testing.T) {
	p := newPipeline(t, enginetest.NewClassifier(2, 2, 0.9))
	s := New(p, Options{Stats: p.StatString})

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(pngBytes(t))))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "frames: 1")

	rec = serve(New(nil, Options{}), httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestLatest(t *testing.T) {
	s := New(nil, Options{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/v1/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Now()
	s.Publish(inference.Frame{Seq: 7, Time: now}, []postprocess.Result{{ID: "0", Label: "cat", Confidence: 0.5}}, nil)
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/v1/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(7), snap.Seq)
	assert.Equal(t, "cat", snap.Results[0].Label)
	assert.Empty(t, snap.Error)

	s.Publish(inference.Frame{Seq: 8, Time: now}, nil, errors.New("device lost"))
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/v1/latest", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(8), snap.Seq)
	assert.Empty(t, snap.Results)
	assert.Equal(t, "device lost", snap.Error)
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o600))
	s := New(nil, Options{StaticDir: dir})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/hello.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "routes still work behind the static files")
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s := New(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
