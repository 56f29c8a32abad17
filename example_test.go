package offlinecache_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

// Put the engine in front of an in-process handler.
func ExampleHandlerTransport() {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Hello, %q", r.URL.Path)
	})
	origin, _ := url.Parse("https://example.com")
	logger := zerolog.Nop()

	engine := offlinecache.New(offlinecache.Config{
		Store:     cache.NewMemStore(),
		Network:   offlinecache.HandlerTransport{Handler: app},
		OriginURL: *origin,
		Manifest:  []string{"/"},
		Logger:    &logger,
	})
	engine.Register(context.Background())

	rr := httptest.NewRecorder()
	engine.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/services/solar-power", nil))
	fmt.Println(rr.Body.String())
	fmt.Println(rr.Header().Get("Cache-Status"))
	// Output:
	// Hello, "/services/solar-power"
	// OfflineCache; fwd=request; stored
}

// Use the engine as the transport of an HTTP client.
func ExampleEngine_RoundTrip() {
	online := true
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body { color: green }"))
	})
	origin, _ := url.Parse("https://example.com")
	logger := zerolog.Nop()

	engine := offlinecache.New(offlinecache.Config{
		Network:   failingWhenOffline{HandlerTransport: offlinecache.HandlerTransport{Handler: app}, online: &online},
		OriginURL: *origin,
		Logger:    &logger,
	})
	engine.Register(context.Background())
	client := &http.Client{Transport: engine}

	fetch := func() {
		res, err := client.Get("https://example.com/_next/static/css/app.css")
		if err != nil {
			fmt.Println(err)
			return
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		fmt.Printf("%s (%s)\n", body, res.Header.Get("Cache-Status"))
	}

	fetch()
	online = false
	fetch()
	// Output:
	// body { color: green } (OfflineCache; fwd=uri-miss; stored)
	// body { color: green } (OfflineCache; hit)
}

type failingWhenOffline struct {
	offlinecache.HandlerTransport
	online *bool
}

func (t failingWhenOffline) RoundTrip(req *http.Request) (*http.Response, error) {
	if !*t.online {
		return nil, fmt.Errorf("dial tcp: network is unreachable")
	}
	return t.HandlerTransport.RoundTrip(req)
}
