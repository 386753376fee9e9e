package ldclient

import (
	"net/http"
	"time"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldhttp"
	"gopkg.in/launchdarkly/go-server-sdk.v4/ldlog"
)

// Logger is a generic logger interface, compatible with log.Logger.
type Logger interface {
	Println(values ...interface{})
	Printf(format string, values ...interface{})
}

// UpdateProcessorFactory is a function that creates an UpdateProcessor.
type UpdateProcessorFactory func(sdkKey string, config Config) (UpdateProcessor, error)

// FeatureStoreFactory is a function that creates a FeatureStore.
type FeatureStoreFactory func(config Config) (FeatureStore, error)

// HTTPClientFactory creates an HTTP client for the SDK to use; the SDK calls it with its
// own configuration so that the client can reflect the configured timeouts.
type HTTPClientFactory func(Config) http.Client

// Config exposes advanced configuration options for the LaunchDarkly client.
type Config struct {
	// The base URI of the main LaunchDarkly service. This should not normally be changed except for testing.
	BaseUri string
	// The base URI of the LaunchDarkly streaming service. This should not normally be changed except for testing.
	StreamUri string
	// The base URI of the LaunchDarkly service that accepts analytics events. This should not normally be
	// changed except for testing.
	EventsUri string
	// The full URI for posting analytics events. This is different from EventsUri in that the client will not
	// add the default URI path to it. It should not normally be changed except for testing, and if set, it
	// causes EventsUri to be ignored.
	EventsEndpointUri string
	// The capacity of the events buffer. The client buffers up to this many events in memory before flushing.
	// If the capacity is exceeded before the buffer is flushed, events will be discarded.
	Capacity int
	// The time between flushes of the event buffer. Decreasing the flush interval means that the event buffer
	// is less likely to reach capacity.
	FlushInterval time.Duration
	// Enables event sampling if non-zero. When set to the default of zero, all events are sent to Launchdarkly.
	// If greater than zero, there is a 1 in SamplingInterval chance that events will be will be sent (example:
	// if the interval is 20, on average 5% of events will be sent).
	SamplingInterval int32
	// The polling interval (when streaming is disabled). Values less than the default of MinimumPollInterval
	// will be set to the default.
	PollInterval time.Duration
	// An object that can be used to produce log output. Setting this is equivalent to passing the same value
	// to Loggers.SetBaseLogger.
	Logger Logger
	// Loggers is the preferred logging configuration mechanism. Its SetBaseLogger and SetMinLevel methods
	// control the destination and level of SDK log output. If Logger is also set, it overrides the base
	// logger of Loggers.
	Loggers ldlog.Loggers
	// The connection timeout to use when making requests to LaunchDarkly.
	Timeout time.Duration
	// Sets the implementation of FeatureStore for holding feature flags and related data received from
	// LaunchDarkly. See NewInMemoryFeatureStore (the default) and the utils.FeatureStoreWrapper type for
	// building custom implementations with caching.
	FeatureStore FeatureStore
	// Sets a factory function for the FeatureStore. If set, it is called when the client is created and
	// takes precedence over FeatureStore.
	FeatureStoreFactory FeatureStoreFactory
	// Sets whether streaming mode should be enabled. By default, streaming is enabled. It should only be
	// disabled on the advice of LaunchDarkly support.
	Stream bool
	// Sets whether this client should use the LaunchDarkly relay in daemon mode. In this mode, the client does
	// not subscribe to the streaming or polling API, but reads data only from the feature store, which is
	// populated externally by the relay.
	UseLdd bool
	// Sets whether to send analytics events back to LaunchDarkly. By default, the client will send events. This
	// differs from Offline in that it only affects sending events, not streaming or polling for events from
	// the server.
	SendEvents bool
	// Sets whether this client is offline. An offline client will not make any network connections to
	// LaunchDarkly, and will return default values for all feature flags.
	Offline bool
	// Sets whether or not all user attributes (other than the key) should be hidden from LaunchDarkly. If this
	// is true, all user attribute values will be private, not just the attributes specified in
	// PrivateAttributeNames.
	AllAttributesPrivate bool
	// Set to true if you need to see the full user details in every analytics event.
	InlineUsersInEvents bool
	// Marks a set of user attribute names private. Any users sent to LaunchDarkly with this configuration
	// active will have attributes with these names removed.
	PrivateAttributeNames []string
	// The number of user keys that the event processor can remember at any one time, so that duplicate user
	// details will not be sent in analytics events.
	UserKeysCapacity int
	// The interval at which the event processor will reset its set of known user keys.
	UserKeysFlushInterval time.Duration
	// An object that is responsible for receiving feature flag updates from LaunchDarkly. By default, this is
	// nil and the client constructs its own streaming or polling processor based on the other properties.
	// This is normally only set to a custom implementation for testing.
	UpdateProcessor UpdateProcessor
	// A factory for the object that is responsible for receiving feature flag updates. If set, it is called
	// when the client is created and takes precedence over UpdateProcessor.
	UpdateProcessorFactory UpdateProcessorFactory
	// The initial delay before reconnecting after a dropped streaming connection. The delay then increases
	// exponentially, with jitter, up to a maximum of 30 seconds.
	ReconnectTime time.Duration
	// An HTTP request timeout for event delivery and polling requests. This is the whole-request timeout,
	// including reading the response body.
	ReadTimeout time.Duration
	// If not nil, this function will be called to create an HTTP client instead of using the default client.
	// The SDK may modify the client properties after that point (for instance, to add caching), but will not
	// replace the underlying Transport, and will not modify any timeout properties you set. See
	// NewHTTPClientFactory().
	HTTPClientFactory HTTPClientFactory
	// The interval at which periodic diagnostic events will be sent, if DiagnosticOptOut is false. Values
	// less than 1 minute are set to 1 minute.
	DiagnosticRecordingInterval time.Duration
	// Set to true to opt out of sending diagnostic events.
	//
	// Unless DiagnosticOptOut is set to true, the client will send some diagnostics data to the LaunchDarkly
	// servers in order to assist in the development of future SDK improvements. These diagnostics consist of
	// an initial payload containing some details of SDK in use, the SDK's configuration, and the platform the
	// SDK is being run on, as well as payloads sent periodically with information on irregular occurrences
	// such as dropped events.
	DiagnosticOptOut bool
	// For use by wrapper libraries to set an identifying name for the wrapper being used. This will be sent in
	// request headers during requests to the LaunchDarkly servers to allow recording metrics on the usage of
	// these wrapper libraries.
	WrapperName string
	// For use by wrapper libraries to report the version of the library in use. If WrapperName is not set,
	// this field will be ignored.
	WrapperVersion string
	// The User-Agent header to send with HTTP requests. This defaults to a value that identifies the version
	// of the Go SDK.
	UserAgent string
	// If true, the client will include a user's key in log messages about evaluation errors. The default is
	// false, on the assumption that user keys may be personally identifying information.
	LogUserKeyInErrors bool
	// If true, evaluation errors such as referencing an unknown flag key will be logged at Error level
	// rather than Warn level.
	LogEvaluationErrors bool

	// Set by the client when it creates the diagnostics manager, so that both the update processor
	// and the event processor can see it.
	diagnosticsManager *diagnosticsManager
}

// MinimumPollInterval describes the minimum value for Config.PollInterval. If you specify a smaller interval,
// the minimum will be used instead.
const MinimumPollInterval = 30 * time.Second

// MinimumDiagnosticRecordingInterval is the minimum value for Config.DiagnosticRecordingInterval.
const MinimumDiagnosticRecordingInterval = time.Minute

// NewHTTPClientFactory returns a function for creating HTTP clients, which you can put into
// Config.HTTPClientFactory. The transport options are applied on top of the SDK's standard
// transport settings (which include the configured connection timeout).
//
//	config := ld.DefaultConfig
//	config.HTTPClientFactory = ld.NewHTTPClientFactory(ldhttp.CACertFileOption("my-cert.pem"))
func NewHTTPClientFactory(options ...ldhttp.TransportOption) HTTPClientFactory {
	return func(c Config) http.Client {
		client := http.Client{
			Timeout: c.ReadTimeout,
		}
		allOpts := []ldhttp.TransportOption{ldhttp.ConnectTimeoutOption(c.Timeout)}
		allOpts = append(allOpts, options...)
		if transport, _, err := ldhttp.NewHTTPTransport(allOpts...); err == nil {
			client.Transport = transport
		}
		return client
	}
}

func (c Config) newHTTPClient() *http.Client {
	factory := c.HTTPClientFactory
	if factory == nil {
		factory = NewHTTPClientFactory()
	}
	client := factory(c)
	return &client
}

// DefaultConfig provides the default configuration options for the LaunchDarkly client.
// The easiest way to create a custom configuration is to start with the default config,
// and set the custom options from there. For example:
//
//	var config = DefaultConfig
//	config.Capacity = 2000
var DefaultConfig = Config{
	BaseUri:                     "https://app.launchdarkly.com",
	StreamUri:                   "https://stream.launchdarkly.com",
	EventsUri:                   "https://events.launchdarkly.com",
	Capacity:                    10000,
	FlushInterval:               5 * time.Second,
	PollInterval:                MinimumPollInterval,
	Timeout:                     2 * time.Second,
	ReadTimeout:                 10 * time.Second,
	ReconnectTime:               time.Second,
	Stream:                      true,
	FeatureStore:                nil,
	UseLdd:                      false,
	SendEvents:                  true,
	Offline:                     false,
	UserKeysCapacity:            1000,
	UserKeysFlushInterval:       5 * time.Minute,
	UserAgent:                   "",
	DiagnosticRecordingInterval: 15 * time.Minute,
}
