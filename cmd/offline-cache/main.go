package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	portFlag           int
	dbFilenameFlag     string
	providerFlag       string
	versionFlag        string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

const shutdownTimeout = 10 * time.Second

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config, default 8080)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file or directory (use 'memory' for in-memory db)")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use: sqlite, leveldb or memory (overrides config)")
	flag.StringVar(&versionFlag, "version", "", "Deployed cache version (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("build", version).Logger()

	fileConfig, err := readConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	config, err := fileConfig.Config()
	if err != nil {
		log.Fatal().Err(err).Msg("Please specify origin")
	}

	store, err := cache.OpenStore(fileConfig.Store.Provider, fileConfig.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("provider", fileConfig.Store.Provider).Msg("Could not open cache store")
	}

	config.Store = store
	config.Network = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	config.Logger = &log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := offlinecache.New(config)
	engine.Register(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", fileConfig.Server.Port),
		Handler:           engine.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		store.Close()
		log.Fatal().Err(err).Msg("Could not listen")
	}

	log.Info().Msgf("Proxying port %v to %s (store %s)", fileConfig.Server.Port, config.OriginURL.String(), fileConfig.Store.Provider)
	if err := serve(ctx, srv, ln, engine.Wait); err != nil {
		log.Error().Err(err).Msg("Server failed")
	}

	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close cache store")
	}
	log.Info().Msg("Stopped")
}

// serve runs srv on ln until ctx is done.
// It returns only after the shutdown has finished and drain has returned,
// so the store may be closed afterwards.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drain func()) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down server")
		}
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		// Serve returns as soon as Shutdown starts, wait for in-flight handlers
		<-shutdownDone
		err = nil
	}

	// let background refreshes and control messages finish
	drain()
	return err
}

// readConfig reads the config file, if any, and applies the flag overrides.
func readConfig() (offlinecache.FileConfig, error) {
	var (
		fileConfig offlinecache.FileConfig
		err        error
	)
	if configFilenameFlag != "" {
		fileConfig, err = offlinecache.LoadConfig(configFilenameFlag)
	} else {
		fileConfig, err = offlinecache.ParseConfig(nil)
	}
	if err != nil {
		return fileConfig, err
	}

	if originFlag != "" {
		if err := fileConfig.SetOrigin(originFlag); err != nil {
			return fileConfig, err
		}
	}
	if portFlag > 0 {
		fileConfig.Server.Port = portFlag
	}
	if providerFlag != "" {
		fileConfig.Store.Provider = providerFlag
	}
	if versionFlag != "" {
		fileConfig.Version = versionFlag
	}
	if dbFilenameFlag != "" {
		fileConfig.Store.Path = dbFilenameFlag
	}

	// set up sqlite memory provider
	if fileConfig.Store.Path == "memory" {
		if fileConfig.Store.Provider == "sqlite" {
			fileConfig.Store.Path = ""
		} else {
			fileConfig.Store.Provider = "memory"
		}
	} else if fileConfig.Store.Path == "" && fileConfig.Store.Provider == "sqlite" {
		fileConfig.Store.Path = "cache.db"
	}
	return fileConfig, nil
}
