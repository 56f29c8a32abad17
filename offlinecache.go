package offlinecache

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultVersion            = "1"
	DefaultAPIPrefix          = "/api/"
	DefaultStaticPrefix       = "/_next/static/"
	DefaultRetention          = 7 * 24 * time.Hour
	DefaultInstallConcurrency = 4
)

var (
	DefaultPagePrefixes = []string{"/services/", "/about", "/contact", "/projects/", "/blog/"}
	DefaultImageHosts   = []string{"images.unsplash.com", "res.cloudinary.com"}
)

// ErrNotCached is returned when the network failed and the cache had no usable copy either.
var ErrNotCached = errors.New("not in cache")

type Config struct {
	// Storage for the named caches.
	Store cache.Store
	// Transport used for network fetches. http.DefaultTransport is used if nil.
	Network http.RoundTripper
	// URL of the serving origin.
	// Requests to other hosts are external resources.
	OriginURL url.URL
	// Deployed version. Physical cache names are derived from it, so changing it
	// makes the next activation drop all caches of the previous version.
	Version string
	// Paths that are pre-cached on install.
	Manifest []string
	// Requests under this path prefix are never intercepted.
	APIPrefix string
	// Path prefix of the build output (static assets).
	StaticPrefix string
	// Path prefixes of content sections, served network-first.
	PagePrefixes []string
	// Hosts of image CDNs.
	ImageHosts []string
	// Maximum age of entries in the volatile caches, enforced on cleanup.
	Retention time.Duration
	// Body of the synthesized offline page.
	OfflinePage []byte
	// Number of manifest entries fetched in parallel on install.
	InstallConcurrency int
	// Receives push notifications. Notifications are logged if nil.
	Notifier Notifier
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Clock used for timestamps and cleanup. time.Now is used if nil.
	Now func() time.Time
}

// Engine intercepts requests and serves them from the named caches or the network.
// It implements http.RoundTripper, and Handler exposes it as a reverse proxy.
type Engine struct {
	store              cache.Store
	network            http.RoundTripper
	origin             url.URL
	names              Names
	keyer              cachekey.CacheKeyer
	classifier         Classifier
	manifest           []string
	apiPrefix          string
	retention          time.Duration
	offlinePage        []byte
	installConcurrency int
	notifier           Notifier
	log                zerolog.Logger
	now                func() time.Time

	// refreshes collapses concurrent background fetches of the same entry
	refreshes singleflight.Group
	// wg tracks background work (refreshes and control messages)
	wg sync.WaitGroup

	state        atomic.Int32
	controlling  atomic.Bool
	registerOnce sync.Once
}

// New creates an engine from the config, filling in defaults for unset fields.
// The engine passes every request through to the network until it has been
// registered (or activated).
func New(config Config) *Engine {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	if config.Store == nil {
		config.Store = cache.NewMemStore()
	}
	if config.Network == nil {
		config.Network = http.DefaultTransport
	}
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	if config.APIPrefix == "" {
		config.APIPrefix = DefaultAPIPrefix
	}
	if config.StaticPrefix == "" {
		config.StaticPrefix = DefaultStaticPrefix
	}
	if config.PagePrefixes == nil {
		config.PagePrefixes = DefaultPagePrefixes
	}
	if config.ImageHosts == nil {
		config.ImageHosts = DefaultImageHosts
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if len(config.OfflinePage) == 0 {
		config.OfflinePage = []byte(defaultOfflinePage)
	}
	if config.InstallConcurrency <= 0 {
		config.InstallConcurrency = DefaultInstallConcurrency
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("version", config.Version).
		Logger()

	if config.Notifier == nil {
		config.Notifier = LogNotifier{Logger: logger}
	}

	return &Engine{
		store:   config.Store,
		network: config.Network,
		origin:  config.OriginURL,
		names:   Names{Version: config.Version},
		keyer:   cachekey.NewCacheKeyer(config.OriginURL),
		classifier: Classifier{
			OriginHost:   config.OriginURL.Host,
			StaticPrefix: config.StaticPrefix,
			PagePrefixes: config.PagePrefixes,
			ImageHosts:   config.ImageHosts,
		},
		manifest:           config.Manifest,
		apiPrefix:          config.APIPrefix,
		retention:          config.Retention,
		offlinePage:        config.OfflinePage,
		installConcurrency: config.InstallConcurrency,
		notifier:           config.Notifier,
		log:                logger,
		now:                config.Now,
	}
}

// Names returns the cache names of the deployed version.
func (e *Engine) Names() Names {
	return e.names
}

// Wait blocks until all background work started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// RoundTrip implements http.RoundTripper.
// Intercepted requests never fail: if the chosen strategy fails, the fallback response is returned.
// Requests that are not intercepted go straight to the network, including its errors.
func (e *Engine) RoundTrip(r *http.Request) (*http.Response, error) {
	if fwd := e.bypassReason(r); fwd != "" {
		return e.passThrough(r, fwd)
	}

	class := e.classifier.Classify(e.keyer.URL(r))
	log := e.log.With().Str("key", e.keyer.GetKey(r)).Stringer("class", class).Logger()
	log.Trace().Msg("Intercepting request")

	var (
		res *http.Response
		cs  rfc9211.CacheStatus
		err error
	)
	switch class {
	case ClassStatic:
		res, cs, err = e.cacheFirst(r, e.names.Physical(CacheStatic))
	case ClassImage:
		res, cs, err = e.cacheFirst(r, e.names.Physical(CacheImage))
	case ClassPage:
		res, cs, err = e.networkFirst(r, e.names.Physical(CacheDynamic))
	case ClassExternal:
		res, cs, err = e.staleWhileRevalidate(r, e.names.Physical(CacheDynamic))
	default:
		res, cs, err = e.networkOnly(r)
	}
	if err != nil {
		log.Error().Err(err).Msg("Could not get response, falling back")
		res, cs = e.fallback(r)
	}

	cs.Set(res.Header)
	e.logRequest(r, res, cs)
	return res, nil
}

// bypassReason returns why the request must not be intercepted, or an empty reason if it may be.
func (e *Engine) bypassReason(r *http.Request) rfc9211.FwdReason {
	if !e.controlling.Load() {
		return rfc9211.FwdReasonBypass
	}
	if r.Method != http.MethodGet {
		return rfc9211.FwdReasonMethod
	}
	u := e.keyer.URL(r)
	if u.Scheme != "http" && u.Scheme != "https" {
		return rfc9211.FwdReasonBypass
	}
	if strings.EqualFold(u.Host, e.origin.Host) && strings.HasPrefix(u.Path, e.apiPrefix) {
		return rfc9211.FwdReasonBypass
	}
	return ""
}

// passThrough sends the request to the network untouched by any cache.
func (e *Engine) passThrough(r *http.Request, fwd rfc9211.FwdReason) (*http.Response, error) {
	res, err := e.network.RoundTrip(e.outgoing(r))
	if err != nil {
		return nil, err
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	if e.controlling.Load() {
		cs := rfc9211.CacheStatus{}
		cs.Forward(fwd)
		cs.Set(res.Header)
	}
	return res, nil
}

// outgoing returns a client request for r with an absolute URL.
// Server requests (as received by Handler) are rewritten to target the origin.
func (e *Engine) outgoing(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.URL = e.keyer.URL(r)
	out.Host = ""
	out.RequestURI = ""
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	if r.RequestURI != "" && r.ContentLength == 0 {
		out.Body = nil
	}
	// do not forward connection header, this causes trouble
	out.Header.Del("Connection")
	return out
}

func (e *Engine) logRequest(r *http.Request, res *http.Response, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	e.log.Debug().
		Str("method", r.Method).
		Str("url", e.keyer.URL(r).String()).
		Int("status", res.StatusCode).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Str("detail", cs.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}
