package offlinecache

import (
	"net/http"
	"strings"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"
)

const defaultOfflinePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
</head>
<body>
<h1>You are offline</h1>
<p>This page is not available right now. Please check your connection and try again.</p>
</body>
</html>
`

// fallback produces the response for a request whose strategy failed. It never fails.
// Navigations get the cached home page if there is one, everything else the offline page.
func (e *Engine) fallback(r *http.Request) (*http.Response, rfc9211.CacheStatus) {
	var cs rfc9211.CacheStatus
	if isNavigation(r) {
		if home, ok := e.match(r.Context(), e.names.Physical(CacheDynamic), e.keyer.RootKey()); ok {
			cs.Hit()
			cs.Detail = "fallback"
			return home.Response(r), cs
		}
	}

	cs.Forward(rfc9211.FwdReasonMiss)
	cs.Detail = "offline"
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return serializer.StoredResponse{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       e.offlinePage,
	}.Response(r), cs
}

// isNavigation reports whether the request loads a top-level document.
// Browsers mark navigations with Sec-Fetch-Mode; other clients are recognized by asking for HTML.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
