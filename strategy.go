package offlinecache

import (
	"context"
	"fmt"
	"net/http"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"
)

// cacheFirst serves from the named cache and goes to the network only on a miss.
// Successful network responses are stored. Network failures are returned to the caller.
func (e *Engine) cacheFirst(r *http.Request, cacheName string) (*http.Response, rfc9211.CacheStatus, error) {
	var cs rfc9211.CacheStatus
	key := e.keyer.GetKey(r)

	if stored, ok := e.match(r.Context(), cacheName, key); ok {
		cs.Hit()
		return stored.Response(r), cs, nil
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := e.fetch(e.outgoing(r))
	if err != nil {
		return nil, cs, err
	}
	if res.Successful() {
		cs.Stored = e.put(r.Context(), cacheName, key, res)
	}
	return res.Response(r), cs, nil
}

// networkFirst always tries the network and stores successful responses.
// If the network fails, the cached copy is served; without one ErrNotCached is returned.
func (e *Engine) networkFirst(r *http.Request, cacheName string) (*http.Response, rfc9211.CacheStatus, error) {
	var cs rfc9211.CacheStatus
	key := e.keyer.GetKey(r)

	res, err := e.fetch(e.outgoing(r))
	if err == nil {
		cs.Forward(rfc9211.FwdReasonRequest)
		if res.Successful() {
			cs.Stored = e.put(r.Context(), cacheName, key, res)
		}
		return res.Response(r), cs, nil
	}

	e.log.Debug().Err(err).Str("key", key).Msg("Network failed, trying cache")
	if stored, ok := e.match(r.Context(), cacheName, key); ok {
		cs.Hit()
		cs.Detail = "offline"
		return stored.Response(r), cs, nil
	}
	return nil, cs, fmt.Errorf("%w: %s (network: %v)", ErrNotCached, key, err)
}

// staleWhileRevalidate serves the cached copy immediately if there is one,
// while a background fetch refreshes the entry for the next request.
// On a miss the caller waits for that fetch.
func (e *Engine) staleWhileRevalidate(r *http.Request, cacheName string) (*http.Response, rfc9211.CacheStatus, error) {
	var cs rfc9211.CacheStatus
	key := e.keyer.GetKey(r)

	if stored, ok := e.match(r.Context(), cacheName, key); ok {
		e.revalidate(e.outgoing(r), cacheName, key)
		cs.Hit()
		cs.Detail = "revalidating"
		return stored.Response(r), cs, nil
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	result := <-e.revalidate(e.outgoing(r), cacheName, key)
	if result.err != nil {
		return nil, cs, result.err
	}
	cs.Stored = result.stored
	cs.Collapsed = result.shared
	return result.response.Response(r), cs, nil
}

// networkOnly streams the network response without touching any cache.
func (e *Engine) networkOnly(r *http.Request) (*http.Response, rfc9211.CacheStatus, error) {
	var cs rfc9211.CacheStatus
	cs.Forward(rfc9211.FwdReasonBypass)
	res, err := e.network.RoundTrip(e.outgoing(r))
	if err != nil {
		return nil, cs, err
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	return res, cs, nil
}

type refreshResult struct {
	response serializer.StoredResponse
	stored   bool
	shared   bool
	err      error
}

// revalidate fetches req in the background and overwrites the entry on success.
// The fetch is detached from the request's cancellation and outlives it;
// the result is delivered on the returned channel, which nobody has to read.
func (e *Engine) revalidate(req *http.Request, cacheName, key string) <-chan refreshResult {
	done := make(chan refreshResult, 1)
	ctx := context.WithoutCancel(req.Context())
	req = req.WithContext(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		v, err, shared := e.refreshes.Do(cacheName+"\n"+key, func() (interface{}, error) {
			res, err := e.fetch(req)
			if err != nil {
				return nil, err
			}
			result := refreshResult{response: res}
			if res.Successful() {
				result.stored = e.put(ctx, cacheName, key, res)
			}
			return result, nil
		})
		if err != nil {
			e.log.Warn().Err(err).Str("key", key).Msg("Background refresh failed")
			done <- refreshResult{err: err}
			return
		}
		result := v.(refreshResult)
		result.shared = shared
		e.log.Trace().Str("key", key).Bool("stored", result.stored).Msg("Background refresh done")
		done <- result
	}()
	return done
}

// fetch performs the network request and buffers the response.
func (e *Engine) fetch(req *http.Request) (serializer.StoredResponse, error) {
	res, err := e.network.RoundTrip(req)
	if err != nil {
		return serializer.StoredResponse{}, err
	}
	stored, err := serializer.ReadStoredResponse(res, e.now())
	if err != nil {
		return stored, fmt.Errorf("read response body: %w", err)
	}
	return stored, nil
}

// match looks up the key in the named cache.
// Store failures are logged and treated as a miss.
func (e *Engine) match(ctx context.Context, cacheName, key string) (serializer.StoredResponse, bool) {
	log := e.log.With().Str("cache", cacheName).Str("key", key).Logger()
	c, err := e.store.Open(ctx, cacheName)
	if err != nil {
		log.Warn().Err(err).Msg("Could not open cache")
		return serializer.StoredResponse{}, false
	}
	b, ok, err := c.Match(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Could not retrieve from cache")
		return serializer.StoredResponse{}, false
	}
	if !ok {
		log.Trace().Msg("Cache miss")
		return serializer.StoredResponse{}, false
	}
	stored, err := serializer.BytesToStoredResponse(b)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read stored response")
		return serializer.StoredResponse{}, false
	}
	log.Trace().Msg("Cache hit")
	return stored, true
}

// put writes the response to the named cache and reports whether it was stored.
// Store failures are logged, never returned.
func (e *Engine) put(ctx context.Context, cacheName, key string, res serializer.StoredResponse) bool {
	log := e.log.With().Str("cache", cacheName).Str("key", key).Logger()
	b, err := res.Bytes()
	if err != nil {
		log.Warn().Err(err).Msg("Could not serialize response")
		return false
	}
	c, err := e.store.Open(ctx, cacheName)
	if err != nil {
		log.Warn().Err(err).Msg("Could not open cache")
		return false
	}
	if err := c.Put(ctx, key, b); err != nil {
		log.Warn().Err(err).Msg("Could not write to cache")
		return false
	}
	log.Trace().Time("storedAt", res.StoredAt).Msg("Cache write")
	return true
}
