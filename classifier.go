package offlinecache

import (
	"net/url"
	"path"
	"strings"
)

// ResourceClass determines which caching strategy handles a request.
type ResourceClass int

const (
	ClassUnclassified ResourceClass = iota
	ClassStatic
	ClassImage
	ClassPage
	ClassExternal
)

func (c ResourceClass) String() string {
	switch c {
	case ClassStatic:
		return "static-asset"
	case ClassImage:
		return "image"
	case ClassPage:
		return "html-page"
	case ClassExternal:
		return "external-resource"
	default:
		return "unclassified"
	}
}

var staticExtensions = map[string]bool{
	".js":    true,
	".mjs":   true,
	".css":   true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".otf":   true,
	".eot":   true,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".avif": true,
	".svg":  true,
	".ico":  true,
}

const imagesPrefix = "/images/"

// Classifier maps request URLs to resource classes.
type Classifier struct {
	// Host of the serving origin.
	OriginHost string
	// Path prefix of the build output.
	StaticPrefix string
	// Path prefixes of content sections.
	PagePrefixes []string
	// Hosts of image CDNs.
	ImageHosts []string
}

// Classify returns the class of the resource at u. The first matching rule wins.
// Extension-less paths count as pages only on the serving origin, with or without a trailing slash.
func (c Classifier) Classify(u *url.URL) ResourceClass {
	p := u.Path
	if p == "" {
		p = "/"
	}
	ext := strings.ToLower(path.Ext(p))
	sameOrigin := strings.EqualFold(u.Host, c.OriginHost)

	if (c.StaticPrefix != "" && strings.HasPrefix(p, c.StaticPrefix)) || staticExtensions[ext] {
		return ClassStatic
	}
	if imageExtensions[ext] || c.isImageHost(u.Hostname()) || strings.HasPrefix(p, imagesPrefix) {
		return ClassImage
	}
	if sameOrigin && (p == "/" || hasAnyPrefix(p, c.PagePrefixes) || ext == "") {
		return ClassPage
	}
	if !sameOrigin {
		return ClassExternal
	}
	return ClassUnclassified
}

func (c Classifier) isImageHost(host string) bool {
	for _, h := range c.ImageHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
