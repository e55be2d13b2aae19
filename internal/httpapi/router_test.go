package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/auth"
	"github.com/suPer8Hu/animation-platform/internal/config"
	"github.com/suPer8Hu/animation-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
	"github.com/suPer8Hu/animation-platform/internal/logger"
)

func init() { gin.SetMode(gin.TestMode) }

func strPtr(s string) *string { return &s }

type fakeService struct {
	jobs      map[string]*jobstore.Job
	cached    *animation.Animation
	createRes *animation.Result
	createErr error
	retryErr  error
	video     *animation.VideoFile
	videoErr  error
	creates   int
}

func (f *fakeService) Create(ctx context.Context, req animation.CreateRequest) (*animation.Result, error) {
	f.creates++
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.createRes, f.createErr
}

func (f *fakeService) Retry(ctx context.Context, jobID string) (*animation.Result, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return &animation.Result{JobID: jobID, Status: jobstore.StatusPending}, nil
}

func (f *fakeService) Status(ctx context.Context, jobID string) (*jobstore.Job, bool, error) {
	if j, ok := f.jobs[jobID]; ok {
		return j, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s", animation.ErrJobNotFound, jobID)
}

func (f *fakeService) List(ctx context.Context) ([]*jobstore.Job, error) {
	var out []*jobstore.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeService) CheckCache(ctx context.Context, level, subjectID, chapterID, topicID int) (*animation.Animation, error) {
	if err := animation.ValidateIdentity(level, subjectID, chapterID, topicID); err != nil {
		return nil, err
	}
	return f.cached, nil
}

func (f *fakeService) CacheStats(ctx context.Context) (*animation.CacheStats, error) {
	return &animation.CacheStats{Total: 1, ByStatus: map[string]int64{"completed": 1}, ByLevel: map[int]int64{8: 1}}, nil
}

func (f *fakeService) ListCached(ctx context.Context, limit int) ([]animation.Animation, error) {
	return []animation.Animation{}, nil
}

func (f *fakeService) Video(ctx context.Context, jobID string) (*animation.VideoFile, error) {
	return f.video, f.videoErr
}

type fakeIndex struct{ err error }

func (f fakeIndex) Ping(ctx context.Context) error { return f.err }
func (f fakeIndex) Count(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, svc *fakeService, cfg config.Config) *gin.Engine {
	t.Helper()
	h := handlers.NewHandler(svc, fakeIndex{}, fakeIndex{}, cfg, func() bool { return true }, logger.Nop())
	return NewRouter(h, cfg, logger.Nop())
}

func do(t *testing.T, r http.Handler, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if ct := w.Header().Get("Content-Type"); len(ct) >= 16 && ct[:16] == "application/json" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

var createBody = map[string]any{
	"topic": "Newton's First Law", "topic_id": 101,
	"subject": "Science", "subject_id": 3,
	"chapter": "Forces", "chapter_id": 12,
	"level": 8,
}

func TestCreateAnimation_CacheHitReportsVideoURL(t *testing.T) {
	svc := &fakeService{createRes: &animation.Result{
		JobID: "01HIT", Status: jobstore.StatusCompleted, Cached: true, VideoName: strPtr("NewtonsFirstLawScene.mp4"),
	}}
	r := newTestRouter(t, svc, config.Config{})

	w, env := do(t, r, http.MethodPost, "/create-animation", createBody, nil)
	if w.Code != http.StatusOK || env.Code != 0 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)
	if data["cached"] != true || data["job_id"] != "01HIT" || data["video_url"] != "/video-by-job/01HIT" {
		t.Fatalf("unexpected data: %v", data)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
}

func TestCreateAnimation_Errors(t *testing.T) {
	cases := []struct {
		name     string
		body     any
		err      error
		wantHTTP int
		wantCode int
	}{
		{"invalid", map[string]any{"topic": "x"}, nil, http.StatusBadRequest, 40001},
		{"store down", createBody, fmt.Errorf("persist new job: %w", jobstore.ErrUnavailable), http.StatusServiceUnavailable, 50301},
		{"stage failed", createBody, &animation.StageError{Stage: animation.StageScript, JobID: "01F", Err: errors.New("no class")}, http.StatusInternalServerError, 50002},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{createErr: tc.err, createRes: &animation.Result{JobID: "01F", Status: jobstore.StatusFailed}}
			r := newTestRouter(t, svc, config.Config{})
			w, env := do(t, r, http.MethodPost, "/create-animation", tc.body, nil)
			if w.Code != tc.wantHTTP || env.Code != tc.wantCode {
				t.Fatalf("status=%d code=%d body=%s", w.Code, env.Code, w.Body.String())
			}
		})
	}
}

func TestMutatingRoutesRequireTokenWhenSecretSet(t *testing.T) {
	svc := &fakeService{createRes: &animation.Result{JobID: "01A", Status: jobstore.StatusPending}}
	r := newTestRouter(t, svc, config.Config{JWTSecret: "s3cret"})

	w, env := do(t, r, http.MethodPost, "/create-animation", createBody, nil)
	if w.Code != http.StatusUnauthorized || env.Code != 40101 || svc.creates != 0 {
		t.Fatalf("expected 401 without token, got %d %s", w.Code, w.Body.String())
	}

	tok, err := auth.SignJWT("ops", "s3cret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	w, _ = do(t, r, http.MethodPost, "/create-animation", createBody, map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusOK || svc.creates != 1 {
		t.Fatalf("expected 200 with token, got %d %s", w.Code, w.Body.String())
	}

	// reads stay open
	w, _ = do(t, r, http.MethodGet, "/list-jobs", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list-jobs should not need a token, got %d", w.Code)
	}
}

func TestJobStatusAndRetry(t *testing.T) {
	now := time.Now().UTC()
	svc := &fakeService{jobs: map[string]*jobstore.Job{
		"01P": {ID: "01P", Status: jobstore.StatusPending, Message: "Script generated", CreatedAt: now, UpdatedAt: now},
	}}
	r := newTestRouter(t, svc, config.Config{})

	w, env := do(t, r, http.MethodGet, "/job-status/01P", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)
	if data["status"] != "pending" || data["source"] != "job_store" {
		t.Fatalf("unexpected data: %v", data)
	}

	w, env = do(t, r, http.MethodGet, "/job-status/nope", nil, nil)
	if w.Code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}

	svc.retryErr = fmt.Errorf("%w: current status is pending", animation.ErrNotRetryable)
	w, env = do(t, r, http.MethodPost, "/retry-job/01P", nil, nil)
	if w.Code != http.StatusBadRequest || env.Code != 40002 {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckCache_QueryAndBody(t *testing.T) {
	svc := &fakeService{cached: &animation.Animation{JobID: "01C", Status: jobstore.StatusCompleted, VideoName: strPtr("A.mp4")}}
	r := newTestRouter(t, svc, config.Config{})

	w, env := do(t, r, http.MethodGet, "/check-cache?level=8&subject_id=3&chapter_id=12&topic_id=101", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)
	if data["cached"] != true || data["job_id"] != "01C" {
		t.Fatalf("unexpected data: %v", data)
	}

	w, _ = do(t, r, http.MethodPost, "/check-cache", map[string]int{"level": 8, "subject_id": 3, "chapter_id": 12, "topic_id": 101}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("post status=%d", w.Code)
	}

	w, env = do(t, r, http.MethodGet, "/check-cache?level=8&subject_id=0&chapter_id=12&topic_id=101", nil, nil)
	if w.Code != http.StatusBadRequest || env.Code != 40001 {
		t.Fatalf("expected 400 for bad tuple, got %d", w.Code)
	}
	w, _ = do(t, r, http.MethodGet, "/check-cache?level=eight", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-integer, got %d", w.Code)
	}
}

func TestVideoRoutes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "NewtonsFirstLawScene.mp4")
	if err := os.WriteFile(path, []byte("fake-mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{video: &animation.VideoFile{Path: path, Name: "NewtonsFirstLawScene.mp4", ContentType: "video/mp4", Size: 8}}
	r := newTestRouter(t, svc, config.Config{})

	w, _ := do(t, r, http.MethodGet, "/video-by-job/01J", nil, nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "video/mp4" || w.Body.String() != "fake-mp4" {
		t.Fatalf("stream: %d %q %q", w.Code, w.Header().Get("Content-Type"), w.Body.String())
	}

	w, _ = do(t, r, http.MethodGet, "/download-video/01J", nil, nil)
	if cd := w.Header().Get("Content-Disposition"); cd == "" || !bytes.Contains([]byte(cd), []byte("attachment")) {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}

	svc.videoErr = fmt.Errorf("%w: outside media root", animation.ErrAccessDenied)
	w, env := do(t, r, http.MethodGet, "/video-by-job/01J", nil, nil)
	if w.Code != http.StatusForbidden || env.Code != 40301 {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	svc.videoErr = fmt.Errorf("%w: job status is rendering", animation.ErrVideoNotReady)
	w, _ = do(t, r, http.MethodGet, "/video-by-job/01J", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	media := t.TempDir()
	cfg := config.Config{MediaRoot: media, AIProvider: "ollama", OllamaBaseURL: "http://localhost:11434"}
	r := newTestRouter(t, &fakeService{}, cfg)

	w, env := do(t, r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)
	if data["status"] != "ok" || data["media_root_exists"] != true || data["active_jobs"] != float64(3) {
		t.Fatalf("unexpected health: %v", data)
	}

	w, env = do(t, r, http.MethodGet, "/database-stats", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status=%d", w.Code)
	}
	_ = json.Unmarshal(env.Data, &data)
	if data["job_store_jobs"] != float64(3) || data["redis_connected"] != true {
		t.Fatalf("unexpected stats: %v", data)
	}

	w, _ = do(t, r, http.MethodGet, "/list-videos", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list-videos status=%d", w.Code)
	}

	w, env = do(t, r, http.MethodGet, "/no-such-route", nil, nil)
	if w.Code != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("expected 404 envelope, got %d", w.Code)
	}
}

func TestHealthDegradedWhenStoreDown(t *testing.T) {
	cfg := config.Config{MediaRoot: t.TempDir()}
	h := handlers.NewHandler(&fakeService{}, fakeIndex{err: jobstore.ErrUnavailable}, fakeIndex{}, cfg, nil, logger.Nop())
	r := NewRouter(h, cfg, logger.Nop())

	_, env := do(t, r, http.MethodGet, "/health", nil, nil)
	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)
	if data["status"] != "degraded" || data["redis_connected"] != false {
		t.Fatalf("unexpected health: %v", data)
	}
}
