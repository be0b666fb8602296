//go:build !windows

package server

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForSignal_Signal(t *testing.T) {
	gs := NewGracefulShutdown(nil, &ShutdownConfig{Signals: []os.Signal{syscall.SIGUSR1}})

	ran := make(chan struct{})
	gs.RegisterHook(func(ctx context.Context) error {
		close(ran)
		return nil
	})

	result := make(chan error, 1)
	go func() { result <- gs.WaitForSignal(context.Background()) }()

	// Give signal.Notify time to register
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSignal did not return after signal")
	}
	<-ran
}
