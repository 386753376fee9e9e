package ldclient

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldlog"
)

// Stub event processor that just accumulates the events it receives, so tests can inspect them.
type testEventProcessor struct {
	events []Event
}

func (t *testEventProcessor) SendEvent(e Event) {
	t.events = append(t.events, e)
}

func (t *testEventProcessor) Flush() {}

func (t *testEventProcessor) Close() error {
	return nil
}

type mockUpdateProcessor struct {
	IsInitialized bool
	CloseFn       func() error
	StartFn       func(chan<- struct{})
}

func (u mockUpdateProcessor) Initialized() bool {
	return u.IsInitialized
}

func (u mockUpdateProcessor) Close() error {
	if u.CloseFn != nil {
		return u.CloseFn()
	}
	return nil
}

func (u mockUpdateProcessor) Start(closeWhenReady chan<- struct{}) {
	if u.StartFn != nil {
		u.StartFn(closeWhenReady)
		return
	}
	close(closeWhenReady)
}

func makeTestClient() *LDClient {
	return makeTestClientWithConfig(nil)
}

func makeTestClientWithConfig(modConfig func(*Config)) *LDClient {
	config := Config{
		Loggers:               ldlog.NewDisabledLoggers(),
		FeatureStore:          NewInMemoryFeatureStore(nil),
		UpdateProcessor:       mockUpdateProcessor{IsInitialized: true},
		SendEvents:            false,
		UserKeysFlushInterval: 30 * time.Second,
	}
	if modConfig != nil {
		modConfig(&config)
	}
	client, _ := MakeCustomClient(sdkKey, config, time.Duration(0))
	// Replace the no-op event processor so tests can see what events were generated
	client.eventProcessor = &testEventProcessor{}
	return client
}

func getCapturedEvents(client *LDClient) []Event {
	return client.eventProcessor.(*testEventProcessor).events
}

func TestMakeCustomClientReturnsErrorWhenInitializationFails(t *testing.T) {
	client, err := MakeCustomClient(sdkKey, Config{
		Loggers:         ldlog.NewDisabledLoggers(),
		SendEvents:      false,
		UpdateProcessor: mockUpdateProcessor{IsInitialized: false},
	}, time.Second)

	require.NotNil(t, client)
	defer client.Close()
	assert.Equal(t, ErrInitializationFailed, err)
	assert.False(t, client.Initialized())
}

func TestMakeCustomClientReturnsTimeoutErrorWhenInitializationIsSlow(t *testing.T) {
	client, err := MakeCustomClient(sdkKey, Config{
		Loggers:    ldlog.NewDisabledLoggers(),
		SendEvents: false,
		UpdateProcessor: mockUpdateProcessor{
			StartFn: func(chan<- struct{}) {}, // never signals readiness
		},
	}, 100*time.Millisecond)

	require.NotNil(t, client)
	defer client.Close()
	assert.Equal(t, ErrInitializationTimeout, err)
	assert.False(t, client.Initialized())
}

func TestMakeCustomClientWithZeroWaitTimeDoesNotBlock(t *testing.T) {
	client, err := MakeCustomClient(sdkKey, Config{
		Loggers:    ldlog.NewDisabledLoggers(),
		SendEvents: false,
		UpdateProcessor: mockUpdateProcessor{
			StartFn: func(chan<- struct{}) {},
		},
	}, 0)

	require.NotNil(t, client)
	defer client.Close()
	assert.NoError(t, err)
	assert.False(t, client.Initialized())
}

func TestMakeCustomClientUsesUpdateProcessorFactoryIfProvided(t *testing.T) {
	factoryCalled := false
	client, err := MakeCustomClient(sdkKey, Config{
		Loggers:    ldlog.NewDisabledLoggers(),
		SendEvents: false,
		UpdateProcessorFactory: func(key string, config Config) (UpdateProcessor, error) {
			factoryCalled = true
			assert.Equal(t, sdkKey, key)
			return mockUpdateProcessor{IsInitialized: true}, nil
		},
	}, time.Second)

	require.NoError(t, err)
	defer client.Close()
	assert.True(t, factoryCalled)
	assert.True(t, client.Initialized())
}

func TestMakeCustomClientReturnsErrorFromUpdateProcessorFactory(t *testing.T) {
	fakeErr := errors.New("sorry")
	_, err := MakeCustomClient(sdkKey, Config{
		Loggers:    ldlog.NewDisabledLoggers(),
		SendEvents: false,
		UpdateProcessorFactory: func(key string, config Config) (UpdateProcessor, error) {
			return nil, fakeErr
		},
	}, time.Second)

	assert.Equal(t, fakeErr, err)
}

func TestMakeCustomClientUsesFeatureStoreFactoryIfProvided(t *testing.T) {
	store := NewInMemoryFeatureStore(nil)
	client, err := MakeCustomClient(sdkKey, Config{
		Loggers:    ldlog.NewDisabledLoggers(),
		SendEvents: false,
		FeatureStoreFactory: func(config Config) (FeatureStore, error) {
			return store, nil
		},
		UpdateProcessor: mockUpdateProcessor{IsInitialized: true},
	}, time.Second)

	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, store, client.store)
}

func TestCloseClosesUpdateProcessor(t *testing.T) {
	closed := false
	client := makeTestClientWithConfig(func(c *Config) {
		c.UpdateProcessor = mockUpdateProcessor{
			IsInitialized: true,
			CloseFn: func() error {
				closed = true
				return nil
			},
		}
	})

	require.NoError(t, client.Close())
	assert.True(t, closed)
}

func TestSecureModeHash(t *testing.T) {
	expected := "aa747c502a898200f9e4fa21bac68136f886a0e27aec70ba06daf2e2a5cb5597"
	key := "Message"
	config := DefaultConfig
	config.Offline = true

	client, _ := MakeCustomClient("secret", config, 0*time.Second)
	defer client.Close()

	hash := client.SecureModeHash(User{Key: &key})
	assert.Equal(t, expected, hash)
}

func TestSecureModeHashReturnsEmptyStringForNilUserKey(t *testing.T) {
	config := DefaultConfig
	config.Offline = true
	client, _ := MakeCustomClient("secret", config, 0*time.Second)
	defer client.Close()

	assert.Equal(t, "", client.SecureModeHash(User{}))
}
