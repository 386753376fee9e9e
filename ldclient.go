// Package ldclient is the main package for the LaunchDarkly SDK.
//
// This package contains the types and methods for the SDK client (LDClient) and its overall
// configuration.
//
// Subpackages in the same repository provide additional functionality for less common needs:
//
//   - ldhttp, ldntlm: advanced HTTP configuration options
//   - ldvalue: an immutable representation of JSON value types
//   - ldlog: the SDK's logging abstraction
//   - utils: support code for building custom feature store integrations
package ldclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

// Version is the client version.
const Version = "4.17.2"

// LDClient is the LaunchDarkly client. Client instances are thread-safe.
// Applications should instantiate a single instance for the lifetime
// of their application.
type LDClient struct {
	sdkKey          string
	config          Config
	eventProcessor  EventProcessor
	updateProcessor UpdateProcessor
	store           FeatureStore
}

// UpdateProcessor describes the interface for an object that receives feature flag data.
type UpdateProcessor interface {
	// Initialized returns true if the processor has received a complete data set at least once.
	Initialized() bool
	// Close permanently shuts down the processor.
	Close() error
	// Start begins the processor's work. Once it has received a complete data set for the first
	// time, or has determined that it can never do so, it closes the closeWhenReady channel.
	Start(closeWhenReady chan<- struct{})
}

type nullUpdateProcessor struct{}

func (n nullUpdateProcessor) Initialized() bool {
	return true
}

func (n nullUpdateProcessor) Close() error {
	return nil
}

func (n nullUpdateProcessor) Start(closeWhenReady chan<- struct{}) {
	close(closeWhenReady)
}

// Initialization errors
var (
	// ErrInitializationTimeout is returned by MakeClient/MakeCustomClient when the client did not
	// finish initializing within the specified timeout. The client is still usable and may finish
	// initializing later.
	ErrInitializationTimeout = errors.New("timeout encountered waiting for LaunchDarkly client initialization")
	// ErrInitializationFailed is returned by MakeClient/MakeCustomClient when initialization failed
	// in a way that is not expected to resolve on its own, such as an invalid SDK key.
	ErrInitializationFailed = errors.New("LaunchDarkly client initialization failed")
	// ErrClientNotInitialized is returned by flag evaluation methods if the client has not yet
	// received any flag data, and the feature store does not contain any previously stored data.
	ErrClientNotInitialized = errors.New("feature flag evaluation called before LaunchDarkly client initialization completed")
)

// MakeClient creates a new client instance that connects to LaunchDarkly with the default
// configuration. In most cases, you should use this method to instantiate your client.
// The optional duration parameter allows callers to block until the client has connected
// to LaunchDarkly and is properly initialized.
func MakeClient(sdkKey string, waitFor time.Duration) (*LDClient, error) {
	return MakeCustomClient(sdkKey, DefaultConfig, waitFor)
}

// MakeCustomClient creates a new client instance that connects to LaunchDarkly with a custom
// configuration. The optional duration parameter allows callers to block until the client has
// connected to LaunchDarkly and is properly initialized.
func MakeCustomClient(sdkKey string, config Config, waitFor time.Duration) (*LDClient, error) {
	closeWhenReady := make(chan struct{})

	config.UserAgent = strings.TrimSpace("GoClient/" + Version + " " + config.UserAgent)
	if config.Logger != nil {
		config.Loggers.SetBaseLogger(config.Logger)
	}
	config.Loggers.Infof("Starting LaunchDarkly client %s", Version)

	if config.PollInterval < MinimumPollInterval {
		config.PollInterval = MinimumPollInterval
	}

	store, err := createFeatureStore(config)
	if err != nil {
		return nil, err
	}
	config.FeatureStore = store

	if config.SendEvents && !config.Offline && !config.DiagnosticOptOut {
		id := newDiagnosticId(sdkKey)
		config.diagnosticsManager = newDiagnosticsManager(id, config, waitFor, time.Now())
	}

	client := LDClient{
		sdkKey: sdkKey,
		config: config,
		store:  store,
	}

	if config.Offline {
		config.Loggers.Info("Started LaunchDarkly in offline mode")
	}

	if config.SendEvents && !config.Offline {
		client.eventProcessor = NewDefaultEventProcessor(sdkKey, config, nil)
	} else {
		client.eventProcessor = newNullEventProcessor()
	}

	client.updateProcessor, err = createUpdateProcessor(sdkKey, config)
	if err != nil {
		return nil, err
	}
	client.updateProcessor.Start(closeWhenReady)

	if waitFor > 0 && !config.Offline && !config.UseLdd {
		config.Loggers.Infof("Waiting up to %d milliseconds for LaunchDarkly client to start...",
			waitFor/time.Millisecond)
	}
	timeout := time.After(waitFor)
	for {
		select {
		case <-closeWhenReady:
			if !client.updateProcessor.Initialized() {
				return &client, ErrInitializationFailed
			}
			config.Loggers.Info("Successfully initialized LaunchDarkly client!")
			return &client, nil
		case <-timeout:
			if waitFor > 0 {
				config.Loggers.Warn("Timeout encountered waiting for LaunchDarkly client initialization")
				return &client, ErrInitializationTimeout
			}
			go func() { <-closeWhenReady }() // Don't block the update processor with this channel
			return &client, nil
		}
	}
}

func createFeatureStore(config Config) (FeatureStore, error) {
	if config.FeatureStoreFactory != nil {
		return config.FeatureStoreFactory(config)
	}
	if config.FeatureStore != nil {
		return config.FeatureStore, nil
	}
	return NewInMemoryFeatureStoreWithLoggers(config.Loggers), nil
}

func createUpdateProcessor(sdkKey string, config Config) (UpdateProcessor, error) {
	if config.UpdateProcessorFactory != nil {
		return config.UpdateProcessorFactory(sdkKey, config)
	}
	if config.UpdateProcessor != nil {
		return config.UpdateProcessor, nil
	}
	if config.Offline {
		return nullUpdateProcessor{}, nil
	}
	if config.UseLdd {
		config.Loggers.Info("Started LaunchDarkly in LDD mode")
		return nullUpdateProcessor{}, nil
	}
	requestor := newRequestor(sdkKey, config, nil)
	if config.Stream {
		return newStreamProcessor(sdkKey, config, requestor, config.diagnosticsManager), nil
	}
	config.Loggers.Warn("You should only disable the streaming API if instructed to do so by LaunchDarkly support")
	return newPollingProcessor(config, requestor), nil
}

// Identify reports details about a user.
func (client *LDClient) Identify(user User) error {
	if client.IsOffline() {
		return nil
	}
	if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warn("Identify called with empty/nil user key!")
		return nil // Don't return an error value because we didn't in the past and it might confuse users
	}
	evt := NewIdentifyEvent(user)
	client.eventProcessor.SendEvent(evt)
	return nil
}

// Track reports that a user has performed an event. Custom data can be attached to the event,
// and is serialized to JSON in the analytics event.
//
// Deprecated: Use TrackData, which uses the ldvalue.Value type rather than an arbitrary interface{}.
func (client *LDClient) Track(key string, user User, data interface{}) error {
	return client.TrackData(key, user, ldvalue.CopyArbitraryValue(data))
}

// TrackData reports that a user has performed an event, and associates it with custom data.
// If you do not need custom data, pass ldvalue.Null() for the last parameter.
func (client *LDClient) TrackData(key string, user User, data ldvalue.Value) error {
	if client.IsOffline() {
		return nil
	}
	if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warn("Track called with empty/nil user key!")
		return nil // Don't return an error value because we didn't in the past and it might confuse users
	}
	client.eventProcessor.SendEvent(NewCustomEvent(key, user, data))
	return nil
}

// TrackMetric reports that a user has performed an event, and associates it with a numeric value.
// This value is used by the LaunchDarkly experimentation feature in numeric custom metrics, and will
// also be returned as part of the custom event for Data Export.
//
// Custom data can also be attached to the event; if you do not need it, pass ldvalue.Null().
func (client *LDClient) TrackMetric(key string, user User, metricValue float64, data ldvalue.Value) error {
	if client.IsOffline() {
		return nil
	}
	if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warn("TrackMetric called with empty/nil user key!")
		return nil
	}
	evt := NewCustomEvent(key, user, data)
	evt.MetricValue = &metricValue
	client.eventProcessor.SendEvent(evt)
	return nil
}

// IsOffline returns whether the LaunchDarkly client is in offline mode.
func (client *LDClient) IsOffline() bool {
	return client.config.Offline
}

// SecureModeHash generates the secure mode hash value for a user.
// See https://docs.launchdarkly.com/sdk/features/secure-mode#go
func (client *LDClient) SecureModeHash(user User) string {
	if user.Key == nil {
		return ""
	}
	key := []byte(client.sdkKey)
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(*user.Key))
	return hex.EncodeToString(h.Sum(nil))
}

// Initialized returns whether the LaunchDarkly client is initialized.
func (client *LDClient) Initialized() bool {
	return client.updateProcessor.Initialized()
}

// Close shuts down the LaunchDarkly client. After calling this, the LaunchDarkly client
// should no longer be used. The method will block until all pending analytics events (if any)
// been sent.
func (client *LDClient) Close() error {
	client.config.Loggers.Info("Closing LaunchDarkly client")
	_ = client.eventProcessor.Close()
	_ = client.updateProcessor.Close()
	return nil
}

// Flush tells the client that all pending analytics events (if any) should be delivered as soon
// as possible. Flushing is asynchronous, so this method will return before it is complete.
// However, if you call Close(), events are guaranteed to be sent before that method returns.
func (client *LDClient) Flush() {
	client.eventProcessor.Flush()
}

// AllFlagsState returns an object that encapsulates the state of all feature flags for a given user,
// including the flag values and also metadata that can be used on the front end. You may pass any
// combination of ClientSideOnly, WithReasons, and DetailsOnlyForTrackedFlags as optional parameters
// to control what data is included.
//
// The most common use case for this method is to bootstrap a set of client-side feature flags from
// a back-end service.
func (client *LDClient) AllFlagsState(user User, options ...FlagsStateOption) FeatureFlagsState {
	valid := true
	if client.IsOffline() {
		client.config.Loggers.Warn("Called AllFlagsState in offline mode. Returning empty state")
		valid = false
	} else if user.Key == nil {
		client.config.Loggers.Warn("Called AllFlagsState with nil user key. Returning empty state")
		valid = false
	} else if !client.Initialized() {
		if client.store.Initialized() {
			client.config.Loggers.Warn("Called AllFlagsState before client initialization; using last known values from feature store")
		} else {
			client.config.Loggers.Warn("Called AllFlagsState before client initialization. Feature store not available; returning empty state")
			valid = false
		}
	}

	if !valid {
		return newInvalidFeatureFlagsState()
	}

	items, err := client.store.All(Features)
	if err != nil {
		client.config.Loggers.Warn("Unable to fetch flags from feature store. Returning empty state. Error: " + err.Error())
		return newInvalidFeatureFlagsState()
	}

	state := newFeatureFlagsState()
	clientSideOnly := hasFlagsStateOption(options, ClientSideOnly)
	withReasons := hasFlagsStateOption(options, WithReasons)
	detailsOnlyIfTracked := hasFlagsStateOption(options, DetailsOnlyForTrackedFlags)
	for _, item := range items {
		if flag, ok := item.(*FeatureFlag); ok {
			if clientSideOnly && !flag.ClientSide {
				continue
			}
			result, _ := flag.EvaluateDetail(user, client.store, withReasons)
			var reason EvaluationReason
			if withReasons {
				reason = result.Reason
			}
			state.addFlag(flag, result.JSONValue, result.VariationIndex, reason, detailsOnlyIfTracked)
		}
	}
	return state
}

// BoolVariation returns the value of a boolean feature flag for a given user.
//
// Returns defaultVal if there is an error, if the flag doesn't exist, or the feature is turned off and
// has no off variation.
func (client *LDClient) BoolVariation(key string, user User, defaultVal bool) (bool, error) {
	detail, err := client.variationWithType(key, user, ldvalue.Bool(defaultVal), ldvalue.BoolType, false)
	return detail.JSONValue.BoolValue(), err
}

// BoolVariationDetail is the same as BoolVariation, but also returns further information about how
// the value was calculated. The "reason" data will also be included in analytics events.
func (client *LDClient) BoolVariationDetail(key string, user User, defaultVal bool) (bool, EvaluationDetail, error) {
	detail, err := client.variationWithType(key, user, ldvalue.Bool(defaultVal), ldvalue.BoolType, true)
	return detail.JSONValue.BoolValue(), detail, err
}

// IntVariation returns the value of a feature flag (whose variations are integers) for the given user.
//
// Returns defaultVal if there is an error, if the flag doesn't exist, or the feature is turned off and
// has no off variation.
//
// If the flag variation has a numeric value that is not an integer, it is rounded toward zero
// (truncated).
func (client *LDClient) IntVariation(key string, user User, defaultVal int) (int, error) {
	detail, err := client.variationWithType(key, user, ldvalue.Int(defaultVal), ldvalue.NumberType, false)
	return detail.JSONValue.IntValue(), err
}

// IntVariationDetail is the same as IntVariation, but also returns further information about how
// the value was calculated. The "reason" data will also be included in analytics events.
func (client *LDClient) IntVariationDetail(key string, user User, defaultVal int) (int, EvaluationDetail, error) {
	detail, err := client.variationWithType(key, user, ldvalue.Int(defaultVal), ldvalue.NumberType, true)
	return detail.JSONValue.IntValue(), detail, err
}

// Float64Variation returns the value of a feature flag (whose variations are floats) for the given user.
//
// Returns defaultVal if there is an error, if the flag doesn't exist, or the feature is turned off and
// has no off variation.
func (client *LDClient) Float64Variation(key string, user User, defaultVal float64) (float64, error) {
	detail, err := client.variationWithType(key, user, ldvalue.Float64(defaultVal), ldvalue.NumberType, false)
	return detail.JSONValue.Float64Value(), err
}

// Float64VariationDetail is the same as Float64Variation, but also returns further information about
// how the value was calculated. The "reason" data will also be included in analytics events.
func (client *LDClient) Float64VariationDetail(key string, user User, defaultVal float64) (float64, EvaluationDetail, error) {
	detail, err := client.variationWithType(key, user, ldvalue.Float64(defaultVal), ldvalue.NumberType, true)
	return detail.JSONValue.Float64Value(), detail, err
}

// StringVariation returns the value of a feature flag (whose variations are strings) for the given user.
//
// Returns defaultVal if there is an error, if the flag doesn't exist, or the feature is turned off and
// has no off variation.
func (client *LDClient) StringVariation(key string, user User, defaultVal string) (string, error) {
	detail, err := client.variationWithType(key, user, ldvalue.String(defaultVal), ldvalue.StringType, false)
	return detail.JSONValue.StringValue(), err
}

// StringVariationDetail is the same as StringVariation, but also returns further information about how
// the value was calculated. The "reason" data will also be included in analytics events.
func (client *LDClient) StringVariationDetail(key string, user User, defaultVal string) (string, EvaluationDetail, error) {
	detail, err := client.variationWithType(key, user, ldvalue.String(defaultVal), ldvalue.StringType, true)
	return detail.JSONValue.StringValue(), detail, err
}

// JSONVariation returns the value of a feature flag for the given user, allowing the value to be
// of any JSON type.
//
// The value is returned as an ldvalue.Value, which can be inspected or converted to other types using
// Value methods such as GetByKey. The defaultVal parameter also uses this type. For instance, if the
// values for this flag are JSON arrays:
//
//	defaultValAsArray := ldvalue.ArrayOf(
//		ldvalue.String("defaultFirstItem"),
//		ldvalue.String("defaultSecondItem"))
//	result, err := client.JSONVariation(flagKey, user, defaultValAsArray)
//	firstItemAsString := result.GetByIndex(0).StringValue() // "defaultFirstItem" etc.
//
// Returns defaultVal if there is an error, if the flag doesn't exist, or the feature is turned off.
func (client *LDClient) JSONVariation(key string, user User, defaultVal ldvalue.Value) (ldvalue.Value, error) {
	detail, err := client.variation(key, user, defaultVal, false)
	return detail.JSONValue, err
}

// JSONVariationDetail is the same as JSONVariation, but also returns further information about how
// the value was calculated. The "reason" data will also be included in analytics events.
func (client *LDClient) JSONVariationDetail(key string, user User, defaultVal ldvalue.Value) (ldvalue.Value, EvaluationDetail, error) {
	detail, err := client.variation(key, user, defaultVal, true)
	return detail.JSONValue, detail, err
}

// Generic method for evaluating a feature flag for a given user, with a checked expected type.
func (client *LDClient) variationWithType(key string, user User, defaultVal ldvalue.Value,
	expectedType ldvalue.ValueType, sendReasonsInEvents bool) (EvaluationDetail, error) {
	result, flag, err := client.variationInternal(key, user, defaultVal, sendReasonsInEvents)
	if err == nil && result.JSONValue.Type() != expectedType {
		result = NewEvaluationError(defaultVal, EvalErrorWrongType)
		err = fmt.Errorf("flag %s returned a value of the wrong type for %s; returning default value",
			key, describeUserForErrorLog(&user, client.config.LogUserKeyInErrors))
		client.logEvaluationError(err)
	}
	client.sendFlagRequestEvent(key, flag, user, result, defaultVal, sendReasonsInEvents)
	return result, err
}

// Generic method for evaluating a feature flag for a given user, with no type checking.
func (client *LDClient) variation(key string, user User, defaultVal ldvalue.Value,
	sendReasonsInEvents bool) (EvaluationDetail, error) {
	result, flag, err := client.variationInternal(key, user, defaultVal, sendReasonsInEvents)
	client.sendFlagRequestEvent(key, flag, user, result, defaultVal, sendReasonsInEvents)
	return result, err
}

func (client *LDClient) variationInternal(key string, user User, defaultVal ldvalue.Value,
	sendReasonsInEvents bool) (EvaluationDetail, *FeatureFlag, error) {
	if client.IsOffline() {
		return NewEvaluationError(defaultVal, EvalErrorClientNotReady), nil, nil
	}

	if !client.Initialized() {
		if client.store.Initialized() {
			client.config.Loggers.Warn("Feature flag evaluation called before LaunchDarkly client initialization completed; using last known values from feature store")
		} else {
			client.logEvaluationError(ErrClientNotInitialized)
			return NewEvaluationError(defaultVal, EvalErrorClientNotReady), nil, ErrClientNotInitialized
		}
	}

	data, storeErr := client.store.Get(Features, key)
	if storeErr != nil {
		client.config.Loggers.Errorf("Encountered error fetching feature from store: %+v", storeErr)
		return NewEvaluationError(defaultVal, EvalErrorException), nil, storeErr
	}
	if data == nil {
		err := fmt.Errorf("unknown feature key: %s. Verify that this feature key exists. Returning default value", key)
		client.logEvaluationError(err)
		return NewEvaluationError(defaultVal, EvalErrorFlagNotFound), nil, err
	}
	flag, ok := data.(*FeatureFlag)
	if !ok {
		err := fmt.Errorf("unexpected data type (%T) found in store for feature key: %s. Returning default value", data, key)
		client.logEvaluationError(err)
		return NewEvaluationError(defaultVal, EvalErrorException), nil, err
	}

	if user.Key == nil {
		err := fmt.Errorf("user.Key cannot be nil when evaluating flag: %s. Returning default value", key)
		client.logEvaluationError(err)
		return NewEvaluationError(defaultVal, EvalErrorUserNotSpecified), flag, err
	}
	if *user.Key == "" {
		client.config.Loggers.Warnf("User.Key is blank when evaluating flag: %s. Flag evaluation will proceed, but the user will not be indexed on the dashboard", key)
	}

	detail, prereqEvents := flag.EvaluateDetail(user, client.store, sendReasonsInEvents)
	if detail.IsDefaultValue() {
		detail.Value = defaultVal.AsArbitraryValue()
		detail.JSONValue = defaultVal
	}
	for _, event := range prereqEvents {
		client.eventProcessor.SendEvent(event)
	}
	return detail, flag, nil
}

func (client *LDClient) sendFlagRequestEvent(key string, flag *FeatureFlag, user User,
	detail EvaluationDetail, defaultVal ldvalue.Value, sendReasonsInEvents bool) {
	if client.IsOffline() {
		return
	}
	evt := newFeatureRequestEvent(key, flag, user, detail.VariationIndex, detail.JSONValue, defaultVal,
		nil, detail.Reason, sendReasonsInEvents)
	client.eventProcessor.SendEvent(evt)
}

func (client *LDClient) logEvaluationError(err error) {
	if client.config.LogEvaluationErrors {
		client.config.Loggers.Error(err.Error())
	} else {
		client.config.Loggers.Warn(err.Error())
	}
}
