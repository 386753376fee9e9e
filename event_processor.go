package ldclient

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldlog"
)

// EventProcessor defines the interface for dispatching analytics events.
type EventProcessor interface {
	// SendEvent records an event asynchronously.
	SendEvent(Event)
	// Flush specifies that any buffered events should be sent as soon as possible, rather than waiting
	// for the next flush interval. This method is asynchronous, so events still may not be sent until
	// a later time.
	Flush()
	// Close shuts down all event processor activity, after first ensuring that all events have been
	// delivered. Subsequent calls to SendEvent() or Flush() will be ignored.
	Close() error
}

const (
	maxFlushWorkers              = 5
	eventSchemaHeader            = "X-LaunchDarkly-Event-Schema"
	payloadIDHeader              = "X-LaunchDarkly-Payload-ID"
	currentEventSchema           = "3"
	defaultEventsEndpointPath    = "/bulk"
	diagnosticEventsEndpointPath = "/diagnostic"
)

type nullEventProcessor struct{}

func newNullEventProcessor() *nullEventProcessor {
	return &nullEventProcessor{}
}

func (n *nullEventProcessor) SendEvent(e Event) {}

func (n *nullEventProcessor) Flush() {}

func (n *nullEventProcessor) Close() error {
	return nil
}

// DefaultEventProcessor buffers analytics events and sends them to LaunchDarkly in the background.
type defaultEventProcessor struct {
	inboxCh       chan eventDispatcherMessage
	inboxFullOnce sync.Once
	closeOnce     sync.Once
	loggers       ldlog.Loggers
}

// Manages the state of summarizable information for the EventProcessor. Methods for this type are
// only called from the single event-dispatching goroutine.
type eventDispatcher struct {
	sdkKey            string
	config            Config
	lastKnownPastTime uint64
	deduplicatedUsers int
	eventsInLastBatch int
	disabled          bool
	stateLock         sync.Mutex
}

type eventBuffer struct {
	events           []Event
	summarizer       *eventSummarizer
	capacity         int
	capacityExceeded bool
	droppedEvents    int
	loggers          ldlog.Loggers
}

type flushPayload struct {
	diagnosticEvent interface{}
	events          []Event
	summary         eventSummary
}

type sendEventsTask struct {
	client        *http.Client
	eventsURI     string
	diagnosticURI string
	loggers       ldlog.Loggers
	sdkKey        string
	config        Config
	formatter     eventOutputFormatter
}

// Payload of the inboxCh channel.
type eventDispatcherMessage interface{}

type sendEventMessage struct {
	event Event
}

type flushEventsMessage struct{}

type shutdownEventsMessage struct {
	replyCh chan struct{}
}

type syncEventsMessage struct {
	replyCh chan struct{}
}

// NewDefaultEventProcessor creates an instance of the default implementation of analytics event processing.
// This is normally only used internally; it is public because the Go SDK code is reused by other LaunchDarkly
// components.
func NewDefaultEventProcessor(sdkKey string, config Config, client *http.Client) EventProcessor {
	if client == nil {
		client = config.newHTTPClient()
	}
	inboxCh := make(chan eventDispatcherMessage, config.Capacity)
	startEventDispatcher(sdkKey, config, client, inboxCh)
	return &defaultEventProcessor{
		inboxCh: inboxCh,
		loggers: config.Loggers,
	}
}

func (ep *defaultEventProcessor) SendEvent(e Event) {
	ep.postToInbox(sendEventMessage{event: e})
}

func (ep *defaultEventProcessor) Flush() {
	ep.postToInbox(flushEventsMessage{})
}

func (ep *defaultEventProcessor) postToInbox(message eventDispatcherMessage) bool {
	select {
	case ep.inboxCh <- message:
		return true
	default:
		// If the inbox is full, it means the eventDispatcher is seriously backed up with not-yet-processed
		// events. This is unlikely, but if it happens, it means the application is probably doing a ton of
		// flag evaluations across many goroutines, so that even all five flush workers can't keep up. We
		// log this at most once.
		ep.inboxFullOnce.Do(func() {
			ep.loggers.Warn("Events are being produced faster than they can be processed; some events will be dropped")
		})
		return false
	}
}

func (ep *defaultEventProcessor) Close() error {
	ep.closeOnce.Do(func() {
		// We put the flush and shutdown messages directly into the channel instead of calling postToInbox,
		// because we *do* want to wait if the inbox is full; these aren't analytics events, they are
		// messages that are necessary for an orderly shutdown.
		ep.inboxCh <- flushEventsMessage{}
		m := shutdownEventsMessage{replyCh: make(chan struct{})}
		ep.inboxCh <- m
		<-m.replyCh
	})
	return nil
}

// Used by tests to ensure that all pending messages and flushes have completed.
func (ep *defaultEventProcessor) waitUntilInactive() {
	m := syncEventsMessage{replyCh: make(chan struct{})}
	ep.inboxCh <- m
	<-m.replyCh
}

func startEventDispatcher(sdkKey string, config Config, client *http.Client,
	inboxCh <-chan eventDispatcherMessage) {
	ed := &eventDispatcher{
		sdkKey: sdkKey,
		config: config,
	}

	// Start a fixed-size pool of workers that wait on flushTriggerCh. This is the
	// maximum number of flushes we can do concurrently.
	flushCh := make(chan *flushPayload, 1)
	var workersGroup sync.WaitGroup
	for i := 0; i < maxFlushWorkers; i++ {
		startFlushTask(sdkKey, config, client, ed, flushCh, &workersGroup)
	}
	if config.diagnosticsManager != nil {
		event := config.diagnosticsManager.CreateInitEvent()
		ed.sendDiagnosticsEvent(event, flushCh, &workersGroup)
	}
	go ed.runMainLoop(inboxCh, flushCh, &workersGroup)
}

func (ed *eventDispatcher) runMainLoop(inboxCh <-chan eventDispatcherMessage,
	flushCh chan<- *flushPayload, workersGroup *sync.WaitGroup) {
	outbox := eventBuffer{
		events:     make([]Event, 0, ed.config.Capacity),
		summarizer: newEventSummarizer(),
		capacity:   ed.config.Capacity,
		loggers:    ed.config.Loggers,
	}
	userKeys := newLruCache(ed.config.UserKeysCapacity)

	flushInterval := ed.config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultConfig.FlushInterval
	}
	userKeysFlushInterval := ed.config.UserKeysFlushInterval
	if userKeysFlushInterval <= 0 {
		userKeysFlushInterval = DefaultConfig.UserKeysFlushInterval
	}
	flushTicker := time.NewTicker(flushInterval)
	usersResetTicker := time.NewTicker(userKeysFlushInterval)

	var diagnosticsTickerCh <-chan time.Time
	diagnosticsManager := ed.config.diagnosticsManager
	if diagnosticsManager != nil {
		interval := ed.config.DiagnosticRecordingInterval
		if interval < MinimumDiagnosticRecordingInterval {
			interval = MinimumDiagnosticRecordingInterval
		}
		diagnosticsTicker := time.NewTicker(interval)
		diagnosticsTickerCh = diagnosticsTicker.C
		defer diagnosticsTicker.Stop()
	}

	for {
		// Drain the response channel with a higher priority than anything else
		// to ensure that the flush workers don't get blocked.
		select {
		case message := <-inboxCh:
			switch message := message.(type) {
			case sendEventMessage:
				ed.processEvent(message.event, &userKeys, &outbox)
			case flushEventsMessage:
				ed.triggerFlush(&outbox, flushCh, workersGroup)
			case syncEventsMessage:
				workersGroup.Wait()
				message.replyCh <- struct{}{}
			case shutdownEventsMessage:
				flushTicker.Stop()
				usersResetTicker.Stop()
				workersGroup.Wait() // Wait for all in-progress flushes to complete
				close(flushCh)      // Causes all idle flush workers to terminate
				message.replyCh <- struct{}{}
				return
			}
		case <-flushTicker.C:
			ed.triggerFlush(&outbox, flushCh, workersGroup)
		case <-usersResetTicker.C:
			userKeys.clear()
		case <-diagnosticsTickerCh:
			if diagnosticsManager != nil {
				event := diagnosticsManager.CreateStatsEventAndReset(
					outbox.droppedEvents,
					ed.deduplicatedUsers,
					ed.eventsInLastBatch,
				)
				outbox.droppedEvents = 0
				ed.deduplicatedUsers = 0
				ed.sendDiagnosticsEvent(event, flushCh, workersGroup)
			}
		}
	}
}

func (ed *eventDispatcher) processEvent(evt Event, userKeys *lruCache, outbox *eventBuffer) {
	// Decide whether to do a random drop of the event
	if ed.config.SamplingInterval > 0 && rand.Int31n(ed.config.SamplingInterval) != 0 {
		return
	}

	// Always record the event in the summarizer.
	outbox.addToSummary(evt)

	// Decide whether to add the event to the payload. Feature events may be added twice, once for
	// the event (if tracked) and once for debugging.
	willAddFullEvent := false
	var debugEvent Event
	switch evt := evt.(type) {
	case FeatureRequestEvent:
		willAddFullEvent = evt.TrackEvents
		if ed.shouldDebugEvent(&evt) {
			de := evt
			de.Debug = true
			debugEvent = de
		}
	default:
		willAddFullEvent = true
	}

	// For each user we haven't seen before, we add an index event before the event that referenced
	// the user - unless the original event will contain an inline user or is itself an identify event.
	user := evt.GetBase().User
	if !(willAddFullEvent && ed.config.InlineUsersInEvents) && user.Key != nil {
		if userKeys.add(*user.Key) {
			if _, ok := evt.(IdentifyEvent); !ok {
				ed.deduplicatedUsers++
			}
		} else {
			if _, ok := evt.(IdentifyEvent); !ok {
				ie := indexEvent{
					BaseEvent{CreationDate: evt.GetBase().CreationDate, User: user},
				}
				outbox.addEvent(ie)
			}
		}
	}
	if willAddFullEvent {
		outbox.addEvent(evt)
	}
	if debugEvent != nil {
		outbox.addEvent(debugEvent)
	}
}

func (ed *eventDispatcher) shouldDebugEvent(evt *FeatureRequestEvent) bool {
	if evt.DebugEventsUntilDate == nil {
		return false
	}
	// The "last known past time" comes from the last HTTP response we received from the server.
	// We know the server time is at least that point in time, so if the debug expiration date is
	// before then, the debugging window has expired even if the local clock is wrong.
	ed.stateLock.Lock()
	lastPast := ed.lastKnownPastTime
	ed.stateLock.Unlock()
	return *evt.DebugEventsUntilDate > lastPast && *evt.DebugEventsUntilDate > now()
}

// Signal that we would like to do a flush as soon as possible.
func (ed *eventDispatcher) triggerFlush(outbox *eventBuffer, flushCh chan<- *flushPayload,
	workersGroup *sync.WaitGroup) {
	if ed.isDisabled() {
		outbox.clear()
		return
	}
	// Make a copy of the events we've queued so far and the summary, but don't clear them yet;
	// that only happens if a flush worker actually picks up the payload.
	payload := outbox.getPayload()
	totalEventCount := len(payload.events)
	if len(payload.summary.counters) > 0 {
		totalEventCount++
	}
	if totalEventCount == 0 {
		ed.eventsInLastBatch = 0
		return
	}
	workersGroup.Add(1) // Increment the count of active flushes
	select {
	case flushCh <- &payload:
		// If the channel wasn't full, then there is a worker available who will pick up this flush
		// payload and send it. The event outbox and summary state can now be cleared from the main goroutine.
		ed.eventsInLastBatch = totalEventCount
		outbox.clear()
	default:
		// We can't start a flush right now because we're waiting for one of the workers to pick up the
		// last one. Do not reset the event outbox or summary state.
		workersGroup.Done()
	}
}

func (ed *eventDispatcher) isDisabled() bool {
	ed.stateLock.Lock()
	defer ed.stateLock.Unlock()
	return ed.disabled
}

func (ed *eventDispatcher) handleResponse(resp *http.Response) {
	if err := checkForHttpError(resp.StatusCode, resp.Request.URL.String()); err != nil {
		ed.config.Loggers.Error(httpErrorMessage(resp.StatusCode, "posting events", "some events were dropped"))
		if !isHTTPErrorRecoverable(resp.StatusCode) {
			ed.stateLock.Lock()
			defer ed.stateLock.Unlock()
			ed.disabled = true
		}
	} else {
		if t, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
			ed.stateLock.Lock()
			defer ed.stateLock.Unlock()
			ed.lastKnownPastTime = toUnixMillis(t)
		}
	}
}

func (ed *eventDispatcher) sendDiagnosticsEvent(event interface{}, flushCh chan<- *flushPayload,
	workersGroup *sync.WaitGroup) {
	payload := flushPayload{diagnosticEvent: event}
	workersGroup.Add(1) // Increment the count of active flushes
	select {
	case flushCh <- &payload:
		// If the channel wasn't full, then there is a worker available who will pick up this flush payload
		// and send it.
	default:
		// We can't start a flush right now because we're waiting for one of the workers to pick up the last
		// one. We'll just discard this diagnostic event, since they are not critical data.
		workersGroup.Done()
	}
}

func (b *eventBuffer) addEvent(event Event) {
	if len(b.events) >= b.capacity {
		b.droppedEvents++
		if !b.capacityExceeded {
			b.capacityExceeded = true
			b.loggers.Warn("Exceeded event queue capacity. Increase capacity to avoid dropping events.")
		}
		return
	}
	b.events = append(b.events, event)
}

func (b *eventBuffer) addToSummary(event Event) {
	b.summarizer.summarizeEvent(event)
}

func (b *eventBuffer) getPayload() flushPayload {
	return flushPayload{
		events:  b.events,
		summary: b.summarizer.eventsState,
	}
}

func (b *eventBuffer) clear() {
	b.events = make([]Event, 0, b.capacity)
	b.capacityExceeded = false
	b.summarizer.eventsState = newEventSummary()
}

func startFlushTask(sdkKey string, config Config, client *http.Client, ed *eventDispatcher,
	flushCh <-chan *flushPayload, workersGroup *sync.WaitGroup) {
	eventsURI := config.EventsEndpointUri
	if eventsURI == "" {
		eventsURI = strings.TrimRight(config.EventsUri, "/") + defaultEventsEndpointPath
	}
	diagnosticURI := strings.TrimRight(config.EventsUri, "/") + diagnosticEventsEndpointPath
	t := sendEventsTask{
		client:        client,
		eventsURI:     eventsURI,
		diagnosticURI: diagnosticURI,
		loggers:       config.Loggers,
		sdkKey:        sdkKey,
		config:        config,
		formatter: eventOutputFormatter{
			userFilter:  newUserFilter(config),
			inlineUsers: config.InlineUsersInEvents,
		},
	}
	go t.run(ed, flushCh, workersGroup)
}

func (t *sendEventsTask) run(ed *eventDispatcher, flushCh <-chan *flushPayload,
	workersGroup *sync.WaitGroup) {
	for {
		payload, more := <-flushCh
		if !more {
			// Channel has been closed - we're shutting down
			break
		}
		if payload.diagnosticEvent != nil {
			t.postJSON(t.diagnosticURI, payload.diagnosticEvent, "diagnostic event", false, nil)
		} else {
			outputEvents := t.formatter.makeOutputEvents(payload.events, payload.summary)
			if len(outputEvents) > 0 {
				t.postJSON(t.eventsURI, outputEvents, "analytics events", true, ed)
			}
		}
		workersGroup.Done() // Decrement the count of in-progress flushes
	}
}

// Posts a JSON payload to the events service, retrying once after a one-second wait if the
// first attempt fails with a recoverable error. The same payload ID header is sent on both
// attempts so that the service can deduplicate them.
func (t *sendEventsTask) postJSON(uri string, body interface{}, description string,
	isAnalytics bool, ed *eventDispatcher) {
	jsonPayload, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		t.loggers.Errorf("Unexpected error marshalling %s json: %+v", description, marshalErr)
		return
	}

	var payloadID string
	if isAnalytics {
		payloadUUID, _ := uuid.NewRandom()
		payloadID = payloadUUID.String()
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			t.loggers.Warnf("Will retry posting %s after 1 second", description)
			time.Sleep(1 * time.Second)
		}
		req, reqErr := http.NewRequest("POST", uri, bytes.NewReader(jsonPayload))
		if reqErr != nil {
			t.loggers.Errorf("Unexpected error while creating event request: %+v", reqErr)
			return
		}
		addBaseHeaders(req, t.sdkKey, t.config)
		req.Header.Add("Content-Type", "application/json")
		if isAnalytics {
			req.Header.Add(eventSchemaHeader, currentEventSchema)
			req.Header.Add(payloadIDHeader, payloadID)
		}

		resp, respErr := t.client.Do(req)
		if respErr != nil {
			t.loggers.Warnf("Unexpected error while sending %s: %+v", description, respErr)
			continue
		}
		_, _ = ioutil.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if ed != nil {
			ed.handleResponse(resp)
		}
		if resp.StatusCode < 300 {
			return
		}
		if !isHTTPErrorRecoverable(resp.StatusCode) {
			return
		}
	}
}
