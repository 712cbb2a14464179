package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/songblend/api/internal/client"
	"github.com/songblend/api/internal/middleware"
	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/service"
	"github.com/songblend/api/internal/service/servicetest"
)

type testApp struct {
	app        *fiber.App
	status     *service.StatusManager
	store      *servicetest.JobStore
	dispatcher *servicetest.Dispatcher
	catalog    *servicetest.Catalog
	outputs    *client.FileStorage
}

type testOptions struct {
	production bool
	rateLimit  int
	deps       []Dependency
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], window, nil
}

func catalogSongs() []model.Song {
	return []model.Song{
		model.NewSong("s1", "Fugue.1", "Bach", "midi/fugue1.mid", nil),
		model.NewSong("s2", "Fugue.2", "Bach", "midi/fugue2.mid", nil),
		model.NewSong("s3", "Fugue in G", "Bach", "midi/fugue-g.mid", nil),
		model.NewSong("s4", "Clair de Lune", "Debussy", "midi/clair.mid", nil),
	}
}

// setupApp builds the full route table over in-memory services.
func setupApp(t *testing.T, opts testOptions) *testApp {
	t.Helper()

	outputs, err := client.NewFileStorage(t.TempDir(), "outputs")
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	store := servicetest.NewJobStore()
	dispatcher := &servicetest.Dispatcher{}
	catalog := servicetest.NewCatalog(catalogSongs()...)

	status := service.NewStatusManager(store, servicetest.NewJobCache(), nil)
	blendService := service.NewBlendService(status, dispatcher, outputs, nil, nil)
	resolver := service.NewResolver(catalog, servicetest.NewSearchCache(), nil)

	validate := validator.New()
	routes := Routes{
		Blend:  NewBlendHandler(blendService, validate),
		Songs:  NewSongHandler(resolver, validate),
		Health: NewHealthHandler(opts.deps...),
	}
	if opts.rateLimit > 0 {
		limiter := middleware.NewRateLimiter(&memCounter{counts: make(map[string]int64)}, nil)
		routes.GenerateLimit = limiter.GenerateLimit(opts.rateLimit)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil, opts.production)})
	Register(app, routes)

	return &testApp{
		app:        app,
		status:     status,
		store:      store,
		dispatcher: dispatcher,
		catalog:    catalog,
		outputs:    outputs,
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

func mustRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode digs the envelope code out of an error response.
func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	detail, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := detail["code"].(string)
	return code
}

const validGenerateBody = `{"songs":["Fugue.1","Clair de Lune","Moonlight"]}`
