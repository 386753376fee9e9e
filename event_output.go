package ldclient

import (
	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

type eventOutputFormatter struct {
	userFilter  userFilter
	inlineUsers bool
}

type featureRequestEventOutput struct {
	Kind         string            `json:"kind"`
	CreationDate uint64            `json:"creationDate"`
	Key          string            `json:"key"`
	User         *scrubbedUser     `json:"user,omitempty"`
	UserKey      *string           `json:"userKey,omitempty"`
	Version      *int              `json:"version,omitempty"`
	Variation    *int              `json:"variation,omitempty"`
	Value        ldvalue.Value     `json:"value"`
	Default      ldvalue.Value     `json:"default"`
	PrereqOf     *string           `json:"prereqOf,omitempty"`
	Reason       *EvaluationReason `json:"reason,omitempty"`
}

type identifyEventOutput struct {
	Kind         string        `json:"kind"`
	CreationDate uint64        `json:"creationDate"`
	Key          *string       `json:"key"`
	User         *scrubbedUser `json:"user"`
}

type customEventOutput struct {
	Kind         string        `json:"kind"`
	CreationDate uint64        `json:"creationDate"`
	Key          string        `json:"key"`
	User         *scrubbedUser `json:"user,omitempty"`
	UserKey      *string       `json:"userKey,omitempty"`
	Data         ldvalue.Value `json:"data,omitempty"`
	MetricValue  *float64      `json:"metricValue,omitempty"`
}

type indexEventOutput struct {
	Kind         string        `json:"kind"`
	CreationDate uint64        `json:"creationDate"`
	User         *scrubbedUser `json:"user"`
}

type summaryEventOutput struct {
	Kind      string                     `json:"kind"`
	StartDate uint64                     `json:"startDate"`
	EndDate   uint64                     `json:"endDate"`
	Features  map[string]flagSummaryData `json:"features"`
}

type flagSummaryData struct {
	Default  ldvalue.Value     `json:"default"`
	Counters []flagCounterData `json:"counters"`
}

type flagCounterData struct {
	Value     ldvalue.Value `json:"value"`
	Variation *int          `json:"variation,omitempty"`
	Version   *int          `json:"version,omitempty"`
	Count     int           `json:"count"`
	Unknown   *bool         `json:"unknown,omitempty"`
}

// Transforms the internal event data into the format used for the JSON payload that is sent
// to the events service. Summary data is transformed into a single summary event. Returns
// the slice of output events and the number of events.
func (ef eventOutputFormatter) makeOutputEvents(events []Event, summary eventSummary) []interface{} {
	out := make([]interface{}, 0, len(events)+1)
	for _, e := range events {
		oe := ef.makeOutputEvent(e)
		if oe != nil {
			out = append(out, oe)
		}
	}
	if len(summary.counters) > 0 {
		out = append(out, ef.makeSummaryEvent(summary))
	}
	return out
}

func (ef eventOutputFormatter) makeOutputEvent(evt Event) interface{} {
	switch evt := evt.(type) {
	case FeatureRequestEvent:
		fe := featureRequestEventOutput{
			Kind:         "feature",
			CreationDate: evt.CreationDate,
			Key:          evt.Key,
			Version:      evt.Version,
			Variation:    evt.Variation,
			Value:        evt.Value,
			Default:      evt.Default,
			PrereqOf:     evt.PrereqOf,
		}
		if evt.Debug {
			fe.Kind = "debug"
		}
		if ef.inlineUsers || evt.Debug {
			fe.User = ef.userFilter.scrubUser(evt.User)
		} else {
			fe.UserKey = evt.User.Key
		}
		if evt.Reason.GetKind() != "" {
			reason := evt.Reason
			fe.Reason = &reason
		}
		return fe
	case CustomEvent:
		ce := customEventOutput{
			Kind:         "custom",
			CreationDate: evt.CreationDate,
			Key:          evt.Key,
			Data:         evt.Data,
			MetricValue:  evt.MetricValue,
		}
		if ef.inlineUsers {
			ce.User = ef.userFilter.scrubUser(evt.User)
		} else {
			ce.UserKey = evt.User.Key
		}
		return ce
	case IdentifyEvent:
		return identifyEventOutput{
			Kind:         "identify",
			CreationDate: evt.CreationDate,
			Key:          evt.User.Key,
			User:         ef.userFilter.scrubUser(evt.User),
		}
	case indexEvent:
		return indexEventOutput{
			Kind:         "index",
			CreationDate: evt.CreationDate,
			User:         ef.userFilter.scrubUser(evt.User),
		}
	}
	return nil
}

// Transforms the summary data into the format used for the JSON event payload.
func (ef eventOutputFormatter) makeSummaryEvent(snapshot eventSummary) summaryEventOutput {
	features := make(map[string]flagSummaryData)
	unknownTrue := true
	for key, value := range snapshot.counters {
		flagData, known := features[key.key]
		if !known {
			flagData = flagSummaryData{Default: value.flagDefault, Counters: []flagCounterData{}}
		}
		data := flagCounterData{
			Value: value.flagValue,
			Count: value.count,
		}
		if key.variation >= 0 {
			v := key.variation
			data.Variation = &v
		}
		if key.version >= 0 {
			v := key.version
			data.Version = &v
		} else {
			data.Unknown = &unknownTrue
		}
		flagData.Counters = append(flagData.Counters, data)
		features[key.key] = flagData
	}
	return summaryEventOutput{
		Kind:      "summary",
		StartDate: snapshot.startDate,
		EndDate:   snapshot.endDate,
		Features:  features,
	}
}
