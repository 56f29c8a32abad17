package offlinecache

import (
	"net/http"

	"github.com/always-cache/offline-cache/pkg/response-recorder"
)

// HandlerTransport is an http.RoundTripper that serves requests with an in-process handler.
// Use it as Config.Network to put the engine in front of a handler instead of a remote origin.
type HandlerTransport struct {
	Handler http.Handler
}

// RoundTrip implements http.RoundTripper.
func (t HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	// the handler expects a server request
	sreq := req.Clone(req.Context())
	sreq.RequestURI = req.URL.RequestURI()
	if sreq.Host == "" {
		sreq.Host = req.URL.Host
	}
	if sreq.Body == nil {
		sreq.Body = http.NoBody
	}

	rw := recorder.NewResponseSaver()
	t.Handler.ServeHTTP(rw, sreq)
	return rw.Result(req), nil
}
