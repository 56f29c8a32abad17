package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeWaitsForInFlightRequests(t *testing.T) {
	var (
		mutex  sync.Mutex
		events []string
	)
	record := func(event string) {
		mutex.Lock()
		defer mutex.Unlock()
		events = append(events, event)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		record("handler")
		w.Write([]byte("done"))
	})}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- serve(ctx, srv, ln, func() { record("drain") })
	}()

	bodies := make(chan string, 1)
	go func() {
		res, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			bodies <- err.Error()
			return
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		bodies <- string(b)
	}()

	<-started
	cancel()
	select {
	case <-served:
		t.Fatal("serve returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-served)
	assert.Equal(t, "done", <-bodies)
	assert.Equal(t, []string{"handler", "drain"}, events)
}

func TestServeStopsWhenContextIsDone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	drained := false
	err = serve(ctx, &http.Server{Handler: http.NotFoundHandler()}, ln, func() { drained = true })
	assert.NoError(t, err)
	assert.True(t, drained)
}
