package ldclient

import (
	"encoding/json"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

// FeatureFlag describes an individual feature flag.
type FeatureFlag struct {
	// Key is the unique string key of the feature flag.
	Key string `json:"key" bson:"key"`
	// Version is an integer that is incremented by LaunchDarkly every time the configuration
	// of the flag is changed.
	Version int `json:"version" bson:"version"`
	// On is true if targeting is turned on for this flag.
	//
	// If On is false, the evaluator returns the OffVariation and ignores everything else.
	On bool `json:"on" bson:"on"`
	// TrackEvents is true if the SDK should send full event data for every evaluation of
	// this flag, rather than only aggregated summary data.
	TrackEvents bool `json:"trackEvents" bson:"trackEvents"`
	// TrackEventsFallthrough is like TrackEvents but only applies if the evaluation result
	// was the fallthrough variation.
	TrackEventsFallthrough bool `json:"trackEventsFallthrough" bson:"trackEventsFallthrough"`
	// DebugEventsUntilDate, if non-nil, is a timestamp (in Unix milliseconds) before which
	// the SDK sends full debugging event data for every evaluation of this flag.
	DebugEventsUntilDate *uint64 `json:"debugEventsUntilDate,omitempty" bson:"debugEventsUntilDate,omitempty"`
	// Deleted is true if this is a placeholder (tombstone) for a deleted flag.
	Deleted bool `json:"deleted" bson:"deleted"`
	// Prerequisites is a list of other flags that must return specific variations for this
	// flag to be evaluated normally.
	Prerequisites []Prerequisite `json:"prerequisites" bson:"prerequisites"`
	// Salt is a randomized value assigned to this flag, used in percentage rollouts.
	Salt string `json:"salt" bson:"salt"`
	// Sel is obsolete and unused.
	Sel string `json:"sel" bson:"sel"`
	// Targets is a list of sets of individually targeted user keys.
	Targets []Target `json:"targets" bson:"targets"`
	// Rules is a list of rules that may match a user.
	Rules []Rule `json:"rules" bson:"rules"`
	// Fallthrough defines the flag's behavior if targeting is on but the user is not matched
	// by any target or rule.
	Fallthrough VariationOrRollout `json:"fallthrough" bson:"fallthrough"`
	// OffVariation specifies the variation index, if any, to return if the flag is off.
	OffVariation *int `json:"offVariation" bson:"offVariation"`
	// Variations is the list of all possible values that the flag can produce.
	Variations []ldvalue.Value `json:"variations" bson:"variations"`
	// ClientSide is true if this flag should be made available to client-side SDKs.
	ClientSide bool `json:"clientSide" bson:"-"`

	// Evaluation reasons that depend only on flag configuration are computed once here so
	// that evaluation does not allocate on the hot path.
	ruleMatchReasons   []EvaluationReason
	prereqFailReasons  []EvaluationReason
	fallthroughReason  EvaluationReason
	offReason          EvaluationReason
	targetMatchReason  EvaluationReason
	malformedFlagError EvaluationReason
}

// GetKey returns the string key for the feature flag.
func (f *FeatureFlag) GetKey() string {
	return f.Key
}

// GetVersion returns the version of a flag.
func (f *FeatureFlag) GetVersion() int {
	return f.Version
}

// IsDeleted returns whether or not a flag has been deleted.
func (f *FeatureFlag) IsDeleted() bool {
	return f.Deleted
}

// Clone returns a copy of a flag.
func (f *FeatureFlag) Clone() VersionedData {
	f1 := *f
	return &f1
}

// isExperimentationEnabled returns true if an evaluation that produced the given reason must
// generate a full feature event with the reason included, regardless of the flag-level
// TrackEvents property. This is the case when the result came from a rule whose TrackEvents is
// set, or from the fallthrough when TrackEventsFallthrough is set.
func (f *FeatureFlag) isExperimentationEnabled(reason EvaluationReason) bool {
	switch reason.GetKind() {
	case EvalReasonFallthrough:
		return f.TrackEventsFallthrough
	case EvalReasonRuleMatch:
		i := reason.GetRuleIndex()
		return i >= 0 && i < len(f.Rules) && f.Rules[i].TrackEvents
	}
	return false
}

// UnmarshalJSON parses the flag's JSON representation and then precomputes the evaluation
// reason instances that are fixed by the flag's configuration.
func (f *FeatureFlag) UnmarshalJSON(data []byte) error {
	type featureFlagNoMethods FeatureFlag // avoids recursing into this method
	var parsed featureFlagNoMethods
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	*f = FeatureFlag(parsed)
	f.precomputeReasons()
	return nil
}

func (f *FeatureFlag) precomputeReasons() {
	f.offReason = newEvalReasonOff()
	f.fallthroughReason = newEvalReasonFallthrough()
	f.targetMatchReason = newEvalReasonTargetMatch()
	f.malformedFlagError = newEvalReasonError(EvalErrorMalformedFlag)
	f.ruleMatchReasons = make([]EvaluationReason, len(f.Rules))
	for i, rule := range f.Rules {
		f.ruleMatchReasons[i] = newEvalReasonRuleMatch(i, rule.Id)
	}
	f.prereqFailReasons = make([]EvaluationReason, len(f.Prerequisites))
	for i, prereq := range f.Prerequisites {
		f.prereqFailReasons[i] = newEvalReasonPrerequisiteFailed(prereq.Key)
	}
}

// Prerequisite describes a requirement that another feature flag return a specific variation
// for this flag to be evaluated normally.
type Prerequisite struct {
	// Key is the unique key of the feature flag to be evaluated as a prerequisite.
	Key string `json:"key" bson:"key"`
	// Variation is the index of the variation that the prerequisite flag must return.
	Variation int `json:"variation" bson:"variation"`
}

// Target describes a set of users who will receive a specific variation of a feature flag.
type Target struct {
	// Values is the set of user keys included in this Target.
	Values []string `json:"values" bson:"values"`
	// Variation is the index of the variation to be returned if the user matches one of
	// these keys.
	Variation int `json:"variation" bson:"variation"`
}

// Rule expresses a set of AND-ed matching conditions for a user, along with either a fixed
// variation or a set of rollout percentages.
type Rule struct {
	// Id is a randomized identifier assigned to each rule when it is created.
	Id string `json:"id,omitempty" bson:"id,omitempty"`
	VariationOrRollout `bson:",inline"`
	// Clauses is a list of test conditions that make up the rule. These are ANDed: every
	// Clause must match in order for the Rule to match.
	Clauses []Clause `json:"clauses,omitempty" bson:"clauses,omitempty"`
	// TrackEvents is true if the SDK should send full event data for every evaluation that
	// matched this rule.
	TrackEvents bool `json:"trackEvents" bson:"trackEvents"`
}

// VariationOrRollout contains either the fixed variation or percent rollout to serve.
// Invariant: one of the variation or rollout must be non-nil.
type VariationOrRollout struct {
	// Variation specifies the index of the variation to return.
	Variation *int `json:"variation,omitempty" bson:"variation,omitempty"`
	// Rollout specifies a percentage rollout to be used instead of a specific variation.
	Rollout *Rollout `json:"rollout,omitempty" bson:"rollout,omitempty"`
}

// Rollout describes how users will be bucketed into variations during a percentage rollout.
type Rollout struct {
	// Variations is a set of percentage allocations for the variations. The sum of the
	// weights is conventionally 100000 (100%).
	Variations []WeightedVariation `json:"variations,omitempty" bson:"variations,omitempty"`
	// BucketBy specifies which attribute of the user to use in the bucketing hash. The
	// default (when nil) is the user's key.
	BucketBy *string `json:"bucketBy,omitempty" bson:"bucketBy,omitempty"`
}

// WeightedVariation describes a fraction of users who will receive a specific variation.
type WeightedVariation struct {
	// Variation is the index of the variation to be served.
	Variation int `json:"variation" bson:"variation"`
	// Weight is the proportion of users who should go into this bucket, as an integer from
	// 0 to 100000.
	Weight int `json:"weight" bson:"weight"`
}

// Clause describes an individual condition within a targeting rule.
type Clause struct {
	// Attribute specifies the user attribute that is being tested.
	//
	// If Op is segmentMatch, the attribute is ignored and Values contains segment keys.
	Attribute string `json:"attribute" bson:"attribute"`
	// Op specifies the operator. An operator not known to this version of the SDK parses
	// successfully but never matches any user.
	Op Operator `json:"op" bson:"op"`
	// Values is a list of values to be compared to the user attribute, ORed together.
	Values []ldvalue.Value `json:"values" bson:"values"`
	// Negate is true if the clause result should be inverted.
	//
	// Note that this is applied after all the other clause logic, so a negated clause with
	// an unknown operator matches every user.
	Negate bool `json:"negate" bson:"negate"`
}
