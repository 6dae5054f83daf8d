package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	cachemocks "github.com/zlnvch/boardsync/cache/mocks"
	mqmocks "github.com/zlnvch/boardsync/mq/mocks"
	"github.com/zlnvch/boardsync/service"
	"github.com/zlnvch/boardsync/session"
	storemocks "github.com/zlnvch/boardsync/store/mocks"
)

var testSecret = []byte("secret")

func testFlushOptions() service.FlushOptions {
	return service.FlushOptions{
		MaxAttempts:     3,
		InitialBackoff:  time.Millisecond,
		StoreTimeout:    time.Second,
		BreakerFailures: 100,
		BreakerTimeout:  time.Second,
	}
}

func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *storemocks.MockUserStore, *cachemocks.MockCache, *mqmocks.MockMQ) {
	t.Helper()
	mockStore := new(storemocks.MockStore)
	mockUsers := new(storemocks.MockUserStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	registry := session.NewRegistry(mockStore, session.RegistryOptions{
		Session: session.Options{BroadcastBacklog: 16},
	})
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())

	svc := service.NewService(mockStore, mockUsers, mockCache, registry, flusher, testSecret)
	t.Cleanup(registry.Close)

	return svc, mockStore, mockUsers, mockCache, mockMQ
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}
