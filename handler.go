package offlinecache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ControlPrefix is the path prefix of the control routes served by Handler.
// Requests under it are never proxied.
const ControlPrefix = "/__offline-cache"

// maximum size of control request bodies
const maxControlBody = 64 << 10

// Handler returns an http.Handler that serves the control routes
// and proxies everything else through the engine.
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route(ControlPrefix, func(r chi.Router) {
		r.Post("/message", e.serveMessage)
		r.Post("/push", e.servePush)
		r.Post("/notification-click", e.serveNotificationClick)
	})
	r.HandleFunc("/*", e.serve)
	return r
}

// serve implements the reverse proxy.
func (e *Engine) serve(w http.ResponseWriter, r *http.Request) {
	// drop our route context, a chi router used as the network must route on its own
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, nil))
	res, err := e.RoundTrip(r)
	if err != nil {
		e.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not proxy request")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if res.Body == nil || r.Method == http.MethodHead {
		return
	}
	if bytesWritten, err := io.Copy(w, res.Body); err != nil {
		e.log.Error().Err(err).Msg("Could not write response body to client")
	} else {
		e.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	}
}

// serveMessage accepts a control message and executes it in the background.
func (e *Engine) serveMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&msg); err != nil {
		http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.HandleMessage(ctx, msg); err != nil {
			e.log.Error().Err(err).Str("type", msg.Type).Msg("Could not handle message")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (e *Engine) servePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := e.Push(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) serveNotificationClick(w http.ResponseWriter, r *http.Request) {
	if err := e.NotificationClick(); err != nil {
		e.log.Error().Err(err).Msg("Could not open notification target")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a workaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
