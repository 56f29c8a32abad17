package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://example.com"

var errNetworkDown = errors.New("network down")

// testNetwork is an in-process origin that counts requests and can be taken offline.
// Every response body names the requested URL and the current generation.
type testNetwork struct {
	handler    http.Handler
	down       atomic.Bool
	generation atomic.Int32

	mutex sync.Mutex
	calls map[string]int
}

func newTestNetwork() *testNetwork {
	n := &testNetwork{calls: map[string]int{}}
	r := chi.NewRouter()
	r.Get("/missing.js", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	r.Post("/api/contact", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	})
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType(r.URL.Path))
		w.Write([]byte(n.body(r.Host + r.URL.RequestURI())))
	})
	n.handler = r
	return n
}

func (n *testNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	n.calls[req.URL.String()]++
	n.mutex.Unlock()
	if n.down.Load() {
		return nil, errNetworkDown
	}
	return HandlerTransport{Handler: n.handler}.RoundTrip(req)
}

// Calls returns the number of network requests for the absolute URL.
func (n *testNetwork) Calls(u string) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.calls[u]
}

func (n *testNetwork) body(uri string) string {
	return fmt.Sprintf("%s generation %d", uri, n.generation.Load())
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".js"):
		return "text/javascript"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	default:
		return "text/html; charset=utf-8"
	}
}

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *testClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func testLogger(t *testing.T) *zerolog.Logger {
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	return &logger
}

func testConfig(t *testing.T, network http.RoundTripper) Config {
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)
	return Config{
		Store:     cache.NewMemStore(),
		Network:   network,
		OriginURL: *origin,
		Version:   "1",
		Logger:    testLogger(t),
	}
}

// newTestEngine returns an engine that is registered and controlling.
func newTestEngine(t *testing.T, config Config) *Engine {
	e := New(config)
	e.Register(context.Background())
	t.Cleanup(e.Wait)
	return e
}

func get(t *testing.T, e *Engine, u string, header ...string) (*http.Response, string) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	res, err := e.RoundTrip(req)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func cacheKeys(t *testing.T, store cache.Store, name string) []string {
	c, err := store.Open(context.Background(), name)
	require.NoError(t, err)
	keys, err := c.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func TestGetRootScenario(t *testing.T) {
	network := newTestNetwork()
	config := testConfig(t, network)
	e := newTestEngine(t, config)

	res, body := get(t, e, testOrigin+"/")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, network.body("example.com/"), body)
	assert.Equal(t, 1, network.Calls(testOrigin+"/"))
	assert.Equal(t, []string{"GET " + testOrigin + "/"}, cacheKeys(t, config.Store, "dynamic-v1"))

	network.down.Store(true)
	network.generation.Add(1)

	res, offlineBody := get(t, e, testOrigin+"/")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, body, offlineBody)
	assert.Equal(t, `OfflineCache; hit; detail="offline"`, res.Header.Get(rfc9211.HeaderName))
}

func TestNonGetPassesThrough(t *testing.T) {
	network := newTestNetwork()
	config := testConfig(t, network)
	e := newTestEngine(t, config)

	req, err := http.NewRequest(http.MethodPost, testOrigin+"/api/contact", nil)
	require.NoError(t, err)
	res, err := e.RoundTrip(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "OfflineCache; fwd=method", res.Header.Get(rfc9211.HeaderName))
	names, err := config.Store.Names(context.Background())
	require.NoError(t, err)
	for _, name := range names {
		assert.Empty(t, cacheKeys(t, config.Store, name), name)
	}
}

func TestAPIBypassPropagatesNetworkErrors(t *testing.T) {
	network := newTestNetwork()
	e := newTestEngine(t, testConfig(t, network))

	res, _ := get(t, e, testOrigin+"/api/status")
	assert.Equal(t, "OfflineCache; fwd=bypass", res.Header.Get(rfc9211.HeaderName))

	network.down.Store(true)
	req, err := http.NewRequest(http.MethodGet, testOrigin+"/api/status", nil)
	require.NoError(t, err)
	_, err = e.RoundTrip(req)
	assert.ErrorIs(t, err, errNetworkDown)
}

func TestNotInterceptedBeforeActivation(t *testing.T) {
	network := newTestNetwork()
	config := testConfig(t, network)
	e := New(config)

	assert.Equal(t, StateIdle, e.State())
	res, _ := get(t, e, testOrigin+"/_next/static/app.js")
	assert.Empty(t, res.Header.Get(rfc9211.HeaderName))
	assert.Empty(t, cacheKeys(t, config.Store, "static-v1"))
}

func TestUnclassifiedIsNotStored(t *testing.T) {
	network := newTestNetwork()
	config := testConfig(t, network)
	e := newTestEngine(t, config)

	get(t, e, testOrigin+"/sitemap.xml")
	res, _ := get(t, e, testOrigin+"/sitemap.xml")

	assert.Equal(t, 2, network.Calls(testOrigin+"/sitemap.xml"))
	assert.Equal(t, "OfflineCache; fwd=bypass", res.Header.Get(rfc9211.HeaderName))
	for _, l := range logicalCaches {
		assert.Empty(t, cacheKeys(t, config.Store, e.Names().Physical(l)))
	}
}

func TestFailureProducesOfflinePage(t *testing.T) {
	network := newTestNetwork()
	network.down.Store(true)
	e := newTestEngine(t, testConfig(t, network))

	res, body := get(t, e, testOrigin+"/_next/static/app.js")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Equal(t, defaultOfflinePage, body)
	assert.Equal(t, `OfflineCache; fwd=miss; detail="offline"`, res.Header.Get(rfc9211.HeaderName))
}

func TestServerRequestsResolveAgainstOrigin(t *testing.T) {
	network := newTestNetwork()
	e := newTestEngine(t, testConfig(t, network))

	req, err := http.NewRequest(http.MethodGet, "/about", nil)
	require.NoError(t, err)
	res, err := e.RoundTrip(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, 1, network.Calls(testOrigin+"/about"))
}
