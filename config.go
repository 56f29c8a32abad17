package offlinecache

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration read by the command.
type FileConfig struct {
	Origin             string   `yaml:"origin"`
	Version            string   `yaml:"version"`
	Manifest           []string `yaml:"manifest"`
	APIPrefix          string   `yaml:"apiPrefix"`
	StaticPrefix       string   `yaml:"staticPrefix"`
	PagePrefixes       []string `yaml:"pagePrefixes"`
	ImageHosts         []string `yaml:"imageHosts"`
	Retention          string   `yaml:"retention"`
	OfflinePage        string   `yaml:"offlinePage"`
	InstallConcurrency int      `yaml:"installConcurrency"`

	Store struct {
		Provider string `yaml:"provider"`
		Path     string `yaml:"path"`
	} `yaml:"store"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	originURL   url.URL
	retention   time.Duration
	offlinePage []byte
}

// LoadConfig reads and validates the YAML file.
// Relative offline page paths are resolved against the directory of the file.
func LoadConfig(filename string) (FileConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return FileConfig{}, err
	}
	return parseConfig(b, filepath.Dir(filename))
}

// ParseConfig validates YAML configuration.
// Relative offline page paths are resolved against the working directory.
func ParseConfig(b []byte) (FileConfig, error) {
	return parseConfig(b, ".")
}

func parseConfig(b []byte, dir string) (FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return FileConfig{}, err
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "sqlite"
	}
	if err := cfg.SetOrigin(cfg.Origin); err != nil {
		return FileConfig{}, err
	}
	if cfg.Retention != "" {
		d, err := time.ParseDuration(cfg.Retention)
		if err != nil {
			return FileConfig{}, fmt.Errorf("retention: %w", err)
		}
		if d <= 0 {
			return FileConfig{}, fmt.Errorf("retention: must be positive, got %s", d)
		}
		cfg.retention = d
	}
	if cfg.InstallConcurrency < 0 {
		return FileConfig{}, fmt.Errorf("installConcurrency: must not be negative")
	}
	for i, path := range cfg.Manifest {
		if !strings.HasPrefix(path, "/") {
			return FileConfig{}, fmt.Errorf("manifest[%d]: %q is not an absolute path", i, path)
		}
	}
	if cfg.OfflinePage != "" {
		path := cfg.OfflinePage
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		page, err := os.ReadFile(path)
		if err != nil {
			return FileConfig{}, fmt.Errorf("offlinePage: %w", err)
		}
		cfg.offlinePage = page
	}
	return cfg, nil
}

// SetOrigin validates and sets the origin URL.
// An empty origin is accepted here and must be provided before calling Config.
func (c *FileConfig) SetOrigin(origin string) error {
	c.Origin = strings.TrimRight(origin, "/")
	c.originURL = url.URL{}
	if c.Origin == "" {
		return nil
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("origin: missing host")
	}
	if u.Path != "" {
		return fmt.Errorf("origin: paths are not supported")
	}
	c.originURL = *u
	return nil
}

// Config returns the engine configuration. Store, network and logger are left to the caller.
func (c FileConfig) Config() (Config, error) {
	if c.Origin == "" {
		return Config{}, fmt.Errorf("origin is required")
	}
	return Config{
		OriginURL:          c.originURL,
		Version:            c.Version,
		Manifest:           c.Manifest,
		APIPrefix:          c.APIPrefix,
		StaticPrefix:       c.StaticPrefix,
		PagePrefixes:       c.PagePrefixes,
		ImageHosts:         c.ImageHosts,
		Retention:          c.retention,
		OfflinePage:        c.offlinePage,
		InstallConcurrency: c.InstallConcurrency,
	}, nil
}
