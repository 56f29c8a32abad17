package cachekey

import (
	"net/http"
	"net/url"
)

// CacheKeyer builds request keys.
// A key is the request method and the absolute request URL, separated by a space.
type CacheKeyer struct {
	// Origin that relative request URLs are resolved against.
	Origin url.URL
}

func NewCacheKeyer(origin url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// URL returns the absolute URL of the request.
// Requests received by a server carry only the path, these are resolved against the origin.
// Fragments and user info never take part in the key.
func (c CacheKeyer) URL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Host == "" {
		u.Scheme = c.Origin.Scheme
		u.Host = c.Origin.Host
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

// GetKey returns the cache key for the request.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return KeyFor(r.Method, c.URL(r))
}

// RootKey returns the key of the origin's root document.
func (c CacheKeyer) RootKey() string {
	return KeyFor(http.MethodGet, c.Origin.ResolveReference(&url.URL{Path: "/"}))
}

// KeyFor returns the cache key for the given method and absolute URL.
func KeyFor(method string, u *url.URL) string {
	return method + " " + u.String()
}
