package ldclient

import (
	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

// An Event represents an analytics event generated by the client, which will be passed to
// the EventProcessor. The event types are a closed set: feature request, custom, identify,
// and index events. Debug events are feature request events with the Debug property set,
// and summary events are synthesized by the event processor at flush time.
type Event interface {
	GetBase() BaseEvent
}

// BaseEvent provides properties common to all events.
type BaseEvent struct {
	CreationDate uint64
	User         User
}

// FeatureRequestEvent is generated by evaluating a feature flag or one of a flag's prerequisites.
type FeatureRequestEvent struct {
	BaseEvent
	Key       string
	Variation *int
	Value     ldvalue.Value
	Default   ldvalue.Value
	Version   *int
	PrereqOf  *string
	// Reason is included in the serialized event only if the evaluation was made through a
	// VariationDetail method, or if the flag requires tracking this evaluation result; it has
	// the zero value otherwise.
	Reason               EvaluationReason
	TrackEvents          bool
	Debug                bool
	DebugEventsUntilDate *uint64
}

// CustomEvent is generated by calling the client's Track methods.
type CustomEvent struct {
	BaseEvent
	Key         string
	Data        ldvalue.Value
	MetricValue *float64
}

// IdentifyEvent is generated by calling the client's Identify method.
type IdentifyEvent struct {
	BaseEvent
}

// IndexEvent is generated internally to capture user details from other events. It is an
// implementation detail of the event processor, so it is not exported.
type indexEvent struct {
	BaseEvent
}

// newFeatureRequestEvent creates a feature request event. For optional parameters, pass nil.
// The reason parameter is always the actual evaluation reason; includeReason determines whether
// it appears in the event. If the flag's configuration requires tracking this result (rule-level
// TrackEvents or TrackEventsFallthrough), the event is made a full event and the reason is
// included regardless of includeReason.
func newFeatureRequestEvent(key string, flag *FeatureFlag, user User, variation *int,
	value, defaultVal ldvalue.Value, prereqOf *string, reason EvaluationReason,
	includeReason bool) FeatureRequestEvent {
	fre := FeatureRequestEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
		Key:       key,
		Variation: variation,
		Value:     value,
		Default:   defaultVal,
		PrereqOf:  prereqOf,
	}
	if flag != nil {
		fre.Version = &flag.Version
		fre.TrackEvents = flag.TrackEvents
		fre.DebugEventsUntilDate = flag.DebugEventsUntilDate
		if flag.isExperimentationEnabled(reason) {
			fre.TrackEvents = true
			includeReason = true
		}
	}
	if includeReason {
		fre.Reason = reason
	}
	return fre
}

// GetBase returns the BaseEvent
func (evt FeatureRequestEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// NewCustomEvent constructs a new custom event, but does not send it. Typically, Track should be
// used to both create the event and send it to LaunchDarkly.
func NewCustomEvent(key string, user User, data ldvalue.Value) CustomEvent {
	return CustomEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
		Key:  key,
		Data: data,
	}
}

// GetBase returns the BaseEvent
func (evt CustomEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// NewIdentifyEvent constructs a new identify event, but does not send it. Typically, Identify should be
// used to both create the event and send it to LaunchDarkly.
func NewIdentifyEvent(user User) IdentifyEvent {
	return IdentifyEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
	}
}

// GetBase returns the BaseEvent
func (evt IdentifyEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// GetBase returns the BaseEvent
func (evt indexEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}
