package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"episoded/internal/episode"
	"episoded/internal/pipeline"
	"episoded/internal/sim"
	"episoded/pkg/types"
)

type mockService struct {
	status  types.StatusResponse
	ready   bool
	endResp types.ManualEndResponse
	endErr  error
	ends    int
}

func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) RequestManualEnd() (types.ManualEndResponse, error) {
	m.ends++
	return m.endResp, m.endErr
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{State: "collecting", Threshold: 0.5, LastFrame: 42}}
	w := serve(NewMux(svc, Options{}), http.MethodGet, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.State != "collecting" || body.LastFrame != 42 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestManualEndAccepted(t *testing.T) {
	svc := &mockService{endResp: types.ManualEndResponse{Queued: true, EpisodeID: 3}}
	w := serve(NewMux(svc, Options{}), http.MethodPost, "/episode/end")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.ManualEndResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !body.Queued || body.EpisodeID != 3 || svc.ends != 1 {
		t.Fatalf("body=%+v ends=%d", body, svc.ends)
	}
}

func TestManualEndErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{episode.ErrNoActiveEpisode, http.StatusConflict},
		{sim.ErrQueueFull, http.StatusServiceUnavailable},
		{pipeline.ErrShuttingDown, http.StatusServiceUnavailable},
		{mockHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		svc := &mockService{endErr: c.err}
		w := serve(NewMux(svc, Options{}), http.MethodPost, "/episode/end")
		if w.Code != c.want {
			t.Fatalf("%v: status=%d want %d", c.err, w.Code, c.want)
		}
		var body types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Code != c.want || body.Error != c.err.Error() {
			t.Fatalf("error body %+v", body)
		}
	}
}

func TestManualEndRequiresPost(t *testing.T) {
	svc := &mockService{}
	w := serve(NewMux(svc, Options{}), http.MethodGet, "/episode/end")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.ends != 0 {
		t.Fatalf("service called on GET")
	}
}

func TestReadyz(t *testing.T) {
	w := serve(NewMux(&mockService{ready: true}, Options{}), http.MethodGet, "/readyz")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	w := serve(NewMux(&mockService{}, Options{}), http.MethodGet, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "starting") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	w := serve(NewMux(&mockService{}, Options{}), http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	h := NewMux(&mockService{ready: true}, Options{CORSOrigins: []string{"*"}})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
}

func TestNoCORSByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	NewMux(&mockService{}, Options{}).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected CORS header %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(&mockService{}, Options{})
	serve(h, http.MethodGet, "/healthz")
	w := serve(h, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "episoded_http_requests_total") {
		t.Fatalf("request counter missing from /metrics")
	}
}
