package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/smazurov/returnfeed/internal/discovery"
	"github.com/smazurov/returnfeed/internal/display"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/metrics"
	"github.com/smazurov/returnfeed/internal/pipeline"
)

type fakeController struct {
	mu         sync.Mutex
	connectErr error
	connected  *frame.SourceHandle
	quality    frame.Quality
}

func (f *fakeController) Connect(_ context.Context, src frame.SourceHandle, q frame.Quality) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected, f.quality = &src, q
	return nil
}

func (f *fakeController) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = nil
	return nil
}

func (f *fakeController) Status() pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := pipeline.Status{State: pipeline.StateIdle, Execution: pipeline.ExecutionGoroutine}
	if f.connected != nil {
		st.State = pipeline.StateConnected
		st.Source = f.connected
		st.Quality = f.quality
		st.FPS = 59.9
	}
	return st
}

var testSources = discovery.Static{
	{Name: "STUDIO", Address: "srt://studio:9000"},
	{Name: "BARS", Address: "pattern://UYVY"},
}

func newTestAPI(t *testing.T, opts *Options) (humatest.TestAPI, *fakeController) {
	t.Helper()
	_, api := humatest.New(t)
	ctrl := &fakeController{}
	if opts.Pipeline == nil {
		opts.Pipeline = ctrl
	}
	if opts.Directory == nil {
		opts.Directory = testSources
	}
	s := newServer(api, nil, opts)
	if opts.AuthUsername != "" {
		api.UseMiddleware(s.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}
	s.registerRoutes()
	return api, ctrl
}

func TestNewServerRegistersAllRoutes(t *testing.T) {
	server := NewServer(&Options{
		Pipeline:          &fakeController{},
		Directory:         testSources,
		Snapshot:          display.NewSnapshot(0),
		EventBus:          events.New(),
		PrometheusHandler: metrics.Handler(),
	})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"presented"`) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("openapi = %d", rec.Code)
	}
	var doc struct {
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Status", "ChannelStats", "PresentationStats", "WorkerStats"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Errorf("schema %s missing from openapi document", name)
		}
	}
}

func TestHealthAndVersion(t *testing.T) {
	api, _ := newTestAPI(t, &Options{})

	resp := api.Get("/api/health")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", resp.Code, resp.Body.String())
	}
	resp = api.Get("/api/version")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "go_version") {
		t.Errorf("version = %d %s", resp.Code, resp.Body.String())
	}
}

func TestListSources(t *testing.T) {
	api, _ := newTestAPI(t, &Options{})

	resp := api.Get("/api/sources")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Sources []frame.SourceHandle `json:"sources"`
		Count   int                  `json:"count"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || body.Sources[1].Name != "BARS" {
		t.Errorf("sources = %+v", body)
	}
}

func TestConnectByName(t *testing.T) {
	api, ctrl := newTestAPI(t, &Options{})

	resp := api.Post("/api/connect", map[string]any{"name": "STUDIO", "quality": "proxy"})
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	if ctrl.connected == nil || ctrl.connected.Address != "srt://studio:9000" || ctrl.quality != frame.QualityProxy {
		t.Errorf("controller got %+v quality %q", ctrl.connected, ctrl.quality)
	}

	var st pipeline.Status
	if err := json.Unmarshal(resp.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != pipeline.StateConnected || st.Source.Name != "STUDIO" {
		t.Errorf("status = %+v", st)
	}
}

func TestConnectByAddress(t *testing.T) {
	api, ctrl := newTestAPI(t, &Options{})

	resp := api.Post("/api/connect", map[string]any{"address": "pattern://NV12?w=64&h=36"})
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	if ctrl.connected.Name != "pattern://NV12?w=64&h=36" || ctrl.quality != "" {
		t.Errorf("controller got %+v quality %q", ctrl.connected, ctrl.quality)
	}
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		connectErr error
		want       int
	}{
		{"unknown name", map[string]any{"name": "NOPE"}, nil, http.StatusNotFound},
		{"empty request", map[string]any{}, nil, http.StatusBadRequest},
		{"bad quality", map[string]any{"name": "STUDIO", "quality": "ultra"}, nil, http.StatusUnprocessableEntity},
		{"busy", map[string]any{"name": "STUDIO"}, frame.ErrHandleBusy, http.StatusConflict},
		{"connect failed", map[string]any{"name": "STUDIO"}, &frame.ConnectError{Err: errors.New("refused")}, http.StatusBadGateway},
		{"not running", map[string]any{"name": "STUDIO"}, pipeline.ErrNotRunning, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, ctrl := newTestAPI(t, &Options{})
			ctrl.connectErr = tt.connectErr
			resp := api.Post("/api/connect", tt.body)
			if resp.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.Code, tt.want, resp.Body.String())
			}
		})
	}
}

func TestDisconnectAndStatus(t *testing.T) {
	api, ctrl := newTestAPI(t, &Options{})
	ctrl.connected = &frame.SourceHandle{Name: "BARS"}

	resp := api.Get("/api/status")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"state":"connected"`) {
		t.Errorf("status = %d %s", resp.Code, resp.Body.String())
	}

	resp = api.Post("/api/disconnect")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"state":"idle"`) {
		t.Errorf("disconnect = %d %s", resp.Code, resp.Body.String())
	}
}

func TestSnapshot(t *testing.T) {
	snap := display.NewSnapshot(80)
	api, _ := newTestAPI(t, &Options{Snapshot: snap})

	resp := api.Get("/api/snapshot")
	if resp.Code != http.StatusNotFound {
		t.Errorf("empty snapshot = %d, want 404", resp.Code)
	}

	snap.SetConnected(true)
	snap.Show(&frame.Normalized{Data: make([]byte, 8*8*3), Width: 8, Height: 8, Seq: 42})
	resp = api.Get("/api/snapshot")
	if resp.Code != http.StatusOK {
		t.Fatalf("snapshot = %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	if seq := resp.Header().Get("X-Frame-Seq"); seq != "42" {
		t.Errorf("X-Frame-Seq = %q", seq)
	}
	if b := resp.Body.Bytes(); len(b) < 2 || b[0] != 0xFF || b[1] != 0xD8 {
		t.Error("body is not a JPEG")
	}

	snap.SetConnected(false)
	if resp := api.Get("/api/snapshot"); resp.Code != http.StatusNotFound {
		t.Errorf("snapshot after disconnect = %d, want 404", resp.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	api, _ := newTestAPI(t, &Options{AuthUsername: "op", AuthPassword: "secret"})

	if resp := api.Get("/api/health"); resp.Code != http.StatusOK {
		t.Errorf("health without auth = %d", resp.Code)
	}
	if resp := api.Get("/api/status"); resp.Code != http.StatusUnauthorized {
		t.Errorf("status without auth = %d, want 401", resp.Code)
	}

	good := "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte("op:secret"))
	if resp := api.Get("/api/status", good); resp.Code != http.StatusOK {
		t.Errorf("status with auth = %d", resp.Code)
	}
	bad := "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte("op:wrong"))
	if resp := api.Get("/api/status", bad); resp.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong password = %d", resp.Code)
	}
	query := "/api/status?auth=" + base64.StdEncoding.EncodeToString([]byte("op:secret"))
	if resp := api.Get(query); resp.Code != http.StatusOK {
		t.Errorf("status with query auth = %d", resp.Code)
	}
}

func TestLogLevel(t *testing.T) {
	api, _ := newTestAPI(t, &Options{})

	resp := api.Put("/api/logs/level/pacing", map[string]any{"level": "debug"})
	if resp.Code != http.StatusOK {
		t.Errorf("set level = %d: %s", resp.Code, resp.Body.String())
	}
	resp = api.Get("/api/logs")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"entries"`) {
		t.Errorf("logs = %d %s", resp.Code, resp.Body.String())
	}
}

func TestEventStream(t *testing.T) {
	bus := events.New()
	ctrl := &fakeController{connected: &frame.SourceHandle{Name: "BARS"}}
	server := NewServer(&Options{Pipeline: ctrl, Directory: testSources, EventBus: bus})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect to SSE: %v", err)
	}
	defer resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitLine := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitLine("event: status")
	if data := waitLine("data:"); !strings.Contains(data, `"state":"connected"`) {
		t.Errorf("initial status = %s", data)
	}

	bus.Publish(events.FPSUpdateEvent{Value: 59.9, Timestamp: events.Timestamp(time.Now())})
	waitLine("event: fps-update")
	if data := waitLine("data:"); !strings.Contains(data, "59.9") {
		t.Errorf("fps event = %s", data)
	}
}
