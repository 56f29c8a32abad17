package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// LogicalCache is the stable role of a cache, independent of the deployed version.
type LogicalCache string

const (
	CacheStatic  LogicalCache = "static"
	CacheDynamic LogicalCache = "dynamic"
	CacheImage   LogicalCache = "image"
)

var logicalCaches = []LogicalCache{CacheStatic, CacheDynamic, CacheImage}

// Names resolves logical caches to the physical names of one version.
type Names struct {
	Version string
}

// Physical returns "{logical}-v{version}".
func (n Names) Physical(l LogicalCache) string {
	return fmt.Sprintf("%s-v%s", l, n.Version)
}

// AllowList returns the physical names of all caches of the version.
func (n Names) AllowList() map[string]bool {
	allowed := make(map[string]bool, len(logicalCaches))
	for _, l := range logicalCaches {
		allowed[n.Physical(l)] = true
	}
	return allowed
}

type State int32

const (
	StateIdle State = iota
	StateInstalled
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// State returns the lifecycle state of the engine.
func (e *Engine) State() State {
	return State(e.state.Load())
}

type InstallReport struct {
	Cached []string
	Failed []string
}

type ActivateReport struct {
	Deleted []string
}

// Register installs and activates the engine. Only the first call has an effect.
// Failures are logged; the engine always ends up active.
func (e *Engine) Register(ctx context.Context) {
	e.registerOnce.Do(func() {
		e.Install(ctx)
		e.Activate(ctx)
	})
}

// Install pre-caches the manifest into the static cache.
// Every manifest entry is fetched and stored on its own; failing entries are logged and skipped.
// Afterwards the engine is ready to take over without waiting for anything else.
func (e *Engine) Install(ctx context.Context) InstallReport {
	var (
		report InstallReport
		mutex  sync.Mutex
	)
	name := e.names.Physical(CacheStatic)
	log := e.log.With().Str("cache", name).Logger()

	if _, err := e.store.Open(ctx, name); err != nil {
		log.Error().Err(err).Msg("Could not open static cache")
		report.Failed = append(report.Failed, e.manifest...)
	} else {
		g := errgroup.Group{}
		g.SetLimit(e.installConcurrency)
		for _, path := range e.manifest {
			path := path
			g.Go(func() error {
				err := e.precache(ctx, name, path)
				mutex.Lock()
				defer mutex.Unlock()
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Could not pre-cache manifest entry")
					report.Failed = append(report.Failed, path)
				} else {
					report.Cached = append(report.Cached, path)
				}
				return nil
			})
		}
		g.Wait()
	}

	sort.Strings(report.Cached)
	sort.Strings(report.Failed)
	e.state.Store(int32(StateInstalled))
	log.Info().
		Int("cached", len(report.Cached)).
		Int("failed", len(report.Failed)).
		Msg("Installed")
	return report
}

func (e *Engine) precache(ctx context.Context, cacheName, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	u := e.origin.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	res, err := e.fetch(req)
	if err != nil {
		return err
	}
	if !res.Successful() {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	if !e.put(ctx, cacheName, e.keyer.GetKey(req), res) {
		return fmt.Errorf("could not store %s", u)
	}
	return nil
}

// Activate deletes every cache that does not belong to the deployed version
// and then starts intercepting requests.
func (e *Engine) Activate(ctx context.Context) ActivateReport {
	var report ActivateReport
	allowed := e.names.AllowList()

	names, err := e.store.Names(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not list caches")
	}
	for _, name := range names {
		if allowed[name] {
			continue
		}
		if _, err := e.store.Delete(ctx, name); err != nil {
			e.log.Error().Err(err).Str("cache", name).Msg("Could not delete old cache")
			continue
		}
		e.log.Info().Str("cache", name).Msg("Deleted old cache")
		report.Deleted = append(report.Deleted, name)
	}

	e.controlling.Store(true)
	e.state.Store(int32(StateActive))
	e.log.Info().Int("deleted", len(report.Deleted)).Msg("Activated")
	return report
}
