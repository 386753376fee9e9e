package ldclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	es "github.com/launchdarkly/eventsource"
)

const (
	putEvent           = "put"
	patchEvent         = "patch"
	deleteEvent        = "delete"
	indirectPatchEvent = "indirect/patch"
	indirectPutEvent   = "indirect/put"

	// The read timeout must be longer than the heartbeat interval used by the LaunchDarkly
	// streaming server, so a healthy but quiet connection is not torn down.
	streamReadTimeout        = 5 * time.Minute
	streamMaxRetryDelay      = 30 * time.Second
	streamRetryResetInterval = 60 * time.Second
	streamJitterRatio        = 0.5
	defaultStreamRetryDelay  = 1 * time.Second
)

type streamProcessor struct {
	store                      FeatureStore
	client                     *http.Client
	requestor                  *requestor
	stream                     *es.Stream
	config                     Config
	sdkKey                     string
	setInitializedOnce         sync.Once
	isInitialized              bool
	halt                       chan struct{}
	connectionAttemptStartTime uint64
	connectionAttemptLock      sync.Mutex
	readyOnce                  sync.Once
	closeOnce                  sync.Once
	diagnosticsManager         *diagnosticsManager
}

type putData struct {
	Path string  `json:"path"`
	Data allData `json:"data"`
}

type patchData struct {
	Path string `json:"path"`
	// This could be a flag or a segment, so we don't parse it until we know from the path
	// which kind of item it is.
	Data json.RawMessage `json:"data"`
}

type deleteData struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

func newStreamProcessor(sdkKey string, config Config, requestor *requestor,
	diagnosticsManager *diagnosticsManager) *streamProcessor {
	sp := &streamProcessor{
		store:              config.FeatureStore,
		config:             config,
		sdkKey:             sdkKey,
		requestor:          requestor,
		halt:               make(chan struct{}),
		diagnosticsManager: diagnosticsManager,
	}

	sp.client = config.newHTTPClient()
	// Client.Timeout isn't just a connect timeout; it will cause the connection to be dropped
	// if the whole response isn't received within that time, which would break the stream. The
	// connect timeout is instead enforced by the dialer that NewHTTPClientFactory sets up.
	sp.client.Timeout = 0

	return sp
}

func (sp *streamProcessor) Initialized() bool {
	return sp.isInitialized
}

func (sp *streamProcessor) Start(closeWhenReady chan<- struct{}) {
	sp.config.Loggers.Info("Starting LaunchDarkly streaming connection")
	go sp.subscribe(closeWhenReady)
}

func (sp *streamProcessor) notifyReady(closeWhenReady chan<- struct{}) {
	sp.readyOnce.Do(func() {
		close(closeWhenReady)
	})
}

func (sp *streamProcessor) subscribe(closeWhenReady chan<- struct{}) {
	req, _ := http.NewRequest("GET", sp.config.StreamUri+"/all", nil)
	addBaseHeaders(req, sp.sdkKey, sp.config)
	sp.config.Loggers.Info("Connecting to LaunchDarkly stream")

	sp.logConnectionStarted()

	initialRetryDelay := sp.config.ReconnectTime
	if initialRetryDelay <= 0 {
		initialRetryDelay = defaultStreamRetryDelay
	}

	errorHandler := func(err error) es.StreamErrorHandlerResult {
		sp.logConnectionResult(false)

		if se, ok := err.(es.SubscriptionError); ok {
			if isHTTPErrorRecoverable(se.Code) {
				sp.config.Loggers.Error(httpErrorMessage(se.Code, "streaming connection", "will retry"))
			} else {
				sp.config.Loggers.Error(httpErrorMessage(se.Code, "streaming connection", "giving up permanently"))
				sp.notifyReady(closeWhenReady) // if the client is still initializing, make it stop waiting
				return es.StreamErrorHandlerResult{CloseNow: true}
			}
		} else {
			sp.config.Loggers.Warnf("Error in stream connection (will retry): %s", err)
		}

		sp.logConnectionStarted()
		return es.StreamErrorHandlerResult{CloseNow: false}
	}

	stream, err := es.SubscribeWithRequestAndOptions(req,
		es.StreamOptionHTTPClient(sp.client),
		es.StreamOptionReadTimeout(streamReadTimeout),
		es.StreamOptionInitialRetry(initialRetryDelay),
		es.StreamOptionUseBackoff(streamMaxRetryDelay),
		es.StreamOptionUseJitter(streamJitterRatio),
		es.StreamOptionRetryResetInterval(streamRetryResetInterval),
		es.StreamOptionErrorHandler(errorHandler),
		es.StreamOptionCanRetryFirstConnection(-1),
	)

	if err != nil {
		sp.logConnectionResult(false)
		// The error handler above has already been called for whatever caused Subscribe to
		// fail, so all that's left to do is stop.
		sp.notifyReady(closeWhenReady)
		return
	}
	sp.stream = stream

	sp.consumeStream(closeWhenReady)
}

func (sp *streamProcessor) consumeStream(closeWhenReady chan<- struct{}) {
	for {
		select {
		case event, ok := <-sp.stream.Events:
			if !ok {
				sp.config.Loggers.Info("Event stream closed")
				return
			}
			sp.logConnectionResult(true)
			sp.processStreamEvent(event, closeWhenReady)

		case <-sp.halt:
			if sp.stream != nil {
				sp.stream.Close()
			}
			return
		}
	}
}

func (sp *streamProcessor) processStreamEvent(event es.Event, closeWhenReady chan<- struct{}) {
	switch event.Event() {
	case putEvent:
		var put putData
		if err := json.Unmarshal([]byte(event.Data()), &put); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling PUT json: %+v", err)
			return
		}
		if err := sp.store.Init(makeAllVersionedDataMap(put.Data.Flags, put.Data.Segments)); err != nil {
			sp.config.Loggers.Errorf("Error initializing store: %s", err)
			return
		}
		sp.setInitializedOnce.Do(func() {
			sp.config.Loggers.Info("LaunchDarkly streaming is active")
			sp.isInitialized = true
			sp.notifyReady(closeWhenReady)
		})

	case patchEvent:
		var patch patchData
		if err := json.Unmarshal([]byte(event.Data()), &patch); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling PATCH json: %+v", err)
			return
		}
		kind, _, err := parseStorePath(patch.Path)
		if err != nil {
			sp.config.Loggers.Errorf("Unable to process event %s: %s", event.Event(), err)
			return
		}
		item := kind.GetDefaultItem().(VersionedData)
		if err := json.Unmarshal(patch.Data, item); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling JSON for %s item: %+v", kind.GetNamespace(), err)
			return
		}
		if err := sp.store.Upsert(kind, item); err != nil {
			sp.config.Loggers.Errorf("Unexpected error storing %s item: %+v", kind.GetNamespace(), err)
		}

	case deleteEvent:
		var data deleteData
		if err := json.Unmarshal([]byte(event.Data()), &data); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling DELETE json: %+v", err)
			return
		}
		kind, key, err := parseStorePath(data.Path)
		if err != nil {
			sp.config.Loggers.Errorf("Unable to process event %s: %s", event.Event(), err)
			return
		}
		if err := sp.store.Delete(kind, key, data.Version); err != nil {
			sp.config.Loggers.Errorf(`Unexpected error deleting %s item "%s": %s`, kind.GetNamespace(), key, err)
		}

	case indirectPutEvent:
		allData, _, err := sp.requestor.requestAll()
		if err != nil {
			sp.config.Loggers.Errorf("Unexpected error requesting all items: %+v", err)
			return
		}
		if err = sp.store.Init(makeAllVersionedDataMap(allData.Flags, allData.Segments)); err != nil {
			sp.config.Loggers.Errorf("Unexpected error initializing store: %+v", err)
			return
		}
		sp.setInitializedOnce.Do(func() {
			sp.isInitialized = true
			sp.notifyReady(closeWhenReady)
		})

	case indirectPatchEvent:
		kind, key, err := parseStorePath(event.Data())
		if err != nil {
			sp.config.Loggers.Errorf("Unable to process event %s: %s", event.Event(), err)
			return
		}
		item, err := sp.requestor.requestResource(kind, key)
		if err != nil {
			sp.config.Loggers.Errorf(`Unexpected error requesting %s item "%s": %+v`, kind.GetNamespace(), key, err)
			return
		}
		if item == nil {
			// The item no longer exists on the service; a delete will arrive separately.
			return
		}
		if err := sp.store.Upsert(kind, item); err != nil {
			sp.config.Loggers.Errorf(`Unexpected error storing %s item "%s": %+v`, kind.GetNamespace(), key, err)
		}

	default:
		sp.config.Loggers.Infof("Unexpected event found in stream: %s", event.Event())
	}
}

func parseStorePath(path string) (VersionedDataKind, string, error) {
	if strings.HasPrefix(path, "/flags/") {
		return Features, strings.TrimPrefix(path, "/flags/"), nil
	}
	if strings.HasPrefix(path, "/segments/") {
		return Segments, strings.TrimPrefix(path, "/segments/"), nil
	}
	return nil, "", fmt.Errorf("unrecognized path %s", path)
}

func (sp *streamProcessor) logConnectionStarted() {
	sp.connectionAttemptLock.Lock()
	defer sp.connectionAttemptLock.Unlock()
	sp.connectionAttemptStartTime = now()
}

func (sp *streamProcessor) logConnectionResult(success bool) {
	sp.connectionAttemptLock.Lock()
	startTimeWas := sp.connectionAttemptStartTime
	sp.connectionAttemptStartTime = 0
	sp.connectionAttemptLock.Unlock()

	if startTimeWas > 0 && sp.diagnosticsManager != nil {
		timestamp := now()
		sp.diagnosticsManager.RecordStreamInit(timestamp, !success, milliseconds(timestamp-startTimeWas))
	}
}

// Close instructs the processor to stop receiving updates
func (sp *streamProcessor) Close() error {
	sp.closeOnce.Do(func() {
		sp.config.Loggers.Info("Closing event stream")
		close(sp.halt)
	})
	return nil
}
