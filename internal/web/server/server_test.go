package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig(okHandler())

	assert.Equal(t, "localhost:5500", config.Address)
	assert.Equal(t, time.Duration(0), config.ReadTimeout)
	assert.Equal(t, time.Duration(0), config.WriteTimeout)
	assert.Equal(t, 60*time.Second, config.IdleTimeout)
	assert.Equal(t, 10*time.Second, config.ReadHeaderTimeout)
	assert.Equal(t, 1<<20, config.MaxHeaderBytes)
}

func TestNewServer(t *testing.T) {
	srv, err := New(DefaultConfig(okHandler()))
	require.NoError(t, err)
	require.NotNil(t, srv)

	assert.Equal(t, "localhost:5500", srv.Addr())
	assert.Equal(t, 0, srv.Port())
}

func TestNewServerNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNewServerNilHandler(t *testing.T) {
	_, err := New(&Config{Address: "localhost:0"})
	assert.Error(t, err)
}

func TestServerListenResolvesPortZero(t *testing.T) {
	srv, err := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()})
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.Listen())
	assert.NotZero(t, srv.Port())
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(srv.Port()), srv.Addr())

	assert.Error(t, srv.Listen(), "second Listen should fail")
}

func TestServerListenPortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	srv, err := New(&Config{Address: busy.Addr().String(), Handler: okHandler()})
	require.NoError(t, err)

	assert.Error(t, srv.Listen())
}

func TestServerServeBeforeListen(t *testing.T) {
	srv, err := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()})
	require.NoError(t, err)

	assert.Error(t, srv.Serve())
}

func TestServerServeHTTP(t *testing.T) {
	srv, err := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	require.NoError(t, srv.Close())
	select {
	case err := <-done:
		assert.NoError(t, err, "closed server is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestServerShutdown(t *testing.T) {
	srv, err := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	go srv.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))

	_, err = net.DialTimeout("tcp", srv.Addr(), 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed")
}

func TestServerCloseUnservedListener(t *testing.T) {
	srv, err := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	addr := srv.Addr()

	srv.Close()

	// The port must be free again
	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	l.Close()
}
