// Package rfc9211 implements the Cache-Status HTTP response header field.
// See https://www.rfc-editor.org/rfc/rfc9211
package rfc9211

import (
	"net/http"
	"strconv"
	"strings"
)

const HeaderName = "Cache-Status"

// CacheName identifies this cache in the header.
const CacheName = "OfflineCache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// The response was stored by the cache.
	Stored bool
	// The request was collapsed with another one.
	Collapsed bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	parts := []string{CacheName}
	switch cs.Status {
	case StatusHit:
		parts = append(parts, "hit")
	case StatusFwd:
		parts = append(parts, "fwd="+string(cs.FwdReason))
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.Collapsed {
		parts = append(parts, "collapsed")
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+strconv.Quote(cs.Detail))
	}
	return strings.Join(parts, "; ")
}

// Set adds the cache status to the header.
// Earlier values (e.g. from caches closer to the origin) are kept.
func (cs CacheStatus) Set(h http.Header) {
	h.Add(HeaderName, cs.String())
}
