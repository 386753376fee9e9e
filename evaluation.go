package ldclient

import (
	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

// EvaluateDetail attempts to evaluate the feature flag for the given user and returns its
// value and an explanation, along with a feature request event for every prerequisite flag
// that was consulted along the way. Evaluation errors are reported in the returned
// EvaluationDetail, never as a Go error; the value in an error detail is null, and the
// caller is responsible for substituting its default.
func (f *FeatureFlag) EvaluateDetail(user User, store FeatureStore,
	sendReasonsInEvents bool) (EvaluationDetail, []FeatureRequestEvent) {
	var prereqEvents []FeatureRequestEvent
	detail := f.evaluateInternal(user, store, sendReasonsInEvents, nil, &prereqEvents)
	return detail, prereqEvents
}

// The visited parameter is the chain of flag keys whose prerequisite evaluation led to this
// flag. It is how prerequisite cycles are detected; evaluation of a flag that is already in
// the chain fails with MALFORMED_FLAG rather than recursing forever.
func (f *FeatureFlag) evaluateInternal(user User, store FeatureStore, sendReasonsInEvents bool,
	visited []string, events *[]FeatureRequestEvent) EvaluationDetail {
	if !f.On {
		return f.getOffValue(f.reasonOff())
	}

	if override := f.checkPrerequisites(user, store, sendReasonsInEvents, visited, events); override != nil {
		return *override
	}

	key := user.GetKey()
	for _, target := range f.Targets {
		for _, value := range target.Values {
			if value == key {
				return f.getVariation(target.Variation, f.reasonTargetMatch())
			}
		}
	}

	for ruleIndex, rule := range f.Rules {
		match, err := rule.matchesUser(store, user)
		if err != nil {
			return NewEvaluationError(ldvalue.Null(), EvalErrorException)
		}
		if match {
			return f.getValueForVariationOrRollout(rule.VariationOrRollout, user, f.reasonRuleMatch(ruleIndex))
		}
	}

	return f.getValueForVariationOrRollout(f.Fallthrough, user, f.reasonFallthrough())
}

// checkPrerequisites returns a non-nil result when the flag's normal targeting should be
// bypassed: either a prerequisite failed (the flag serves its off value) or the data was
// malformed. All prerequisites are evaluated even after the first failure, because each
// evaluation must produce its feature request event; only the first failure determines the
// result.
func (f *FeatureFlag) checkPrerequisites(user User, store FeatureStore, sendReasonsInEvents bool,
	visited []string, events *[]FeatureRequestEvent) *EvaluationDetail {
	if len(f.Prerequisites) == 0 {
		return nil
	}

	prereqChain := append(visited, f.Key) //nolint:gocritic // the append copy is deliberate, each level owns its chain

	var failedResult *EvaluationDetail
	for i, prereq := range f.Prerequisites {
		for _, visitedKey := range prereqChain {
			if visitedKey == prereq.Key {
				result := NewEvaluationError(ldvalue.Null(), EvalErrorMalformedFlag)
				return &result
			}
		}

		data, err := store.Get(Features, prereq.Key)
		if err != nil {
			result := NewEvaluationError(ldvalue.Null(), EvalErrorException)
			return &result
		}
		prereqFeatureFlag, ok := data.(*FeatureFlag)
		if !ok || prereqFeatureFlag == nil {
			// A missing prerequisite flag is a failure, but there is nothing to generate an
			// event for.
			if failedResult == nil {
				result := f.getOffValue(f.reasonPrerequisiteFailed(i))
				failedResult = &result
			}
			continue
		}

		prereqDetail := prereqFeatureFlag.evaluateInternal(user, store, sendReasonsInEvents,
			prereqChain, events)

		event := newFeatureRequestEvent(prereq.Key, prereqFeatureFlag, user,
			prereqDetail.VariationIndex, prereqDetail.JSONValue, ldvalue.Null(), &f.Key,
			prereqDetail.Reason, sendReasonsInEvents)
		*events = append(*events, event)

		if prereqDetail.Reason.GetKind() == EvalReasonError {
			result := NewEvaluationError(ldvalue.Null(), prereqDetail.Reason.GetErrorKind())
			return &result
		}
		prereqOK := prereqFeatureFlag.On && prereqDetail.VariationIndex != nil &&
			*prereqDetail.VariationIndex == prereq.Variation
		if !prereqOK && failedResult == nil {
			result := f.getOffValue(f.reasonPrerequisiteFailed(i))
			failedResult = &result
		}
	}
	return failedResult
}

func (f *FeatureFlag) getVariation(index int, reason EvaluationReason) EvaluationDetail {
	if index < 0 || index >= len(f.Variations) {
		return NewEvaluationError(ldvalue.Null(), EvalErrorMalformedFlag)
	}
	indexCopy := index
	return NewEvaluationDetail(f.Variations[index], &indexCopy, reason)
}

func (f *FeatureFlag) getOffValue(reason EvaluationReason) EvaluationDetail {
	if f.OffVariation == nil {
		return NewEvaluationDetail(ldvalue.Null(), nil, reason)
	}
	return f.getVariation(*f.OffVariation, reason)
}

func (f *FeatureFlag) getValueForVariationOrRollout(vr VariationOrRollout, user User,
	reason EvaluationReason) EvaluationDetail {
	index, ok := vr.variationIndexForUser(user, f.Key, f.Salt)
	if !ok {
		return NewEvaluationError(ldvalue.Null(), EvalErrorMalformedFlag)
	}
	return f.getVariation(index, reason)
}

// The reason accessors prefer the instances precomputed at deserialization time, but fall
// back to constructing one so that flags built in code (such as in tests) behave the same.

func (f *FeatureFlag) reasonOff() EvaluationReason {
	if f.offReason.kind != "" {
		return f.offReason
	}
	return newEvalReasonOff()
}

func (f *FeatureFlag) reasonFallthrough() EvaluationReason {
	if f.fallthroughReason.kind != "" {
		return f.fallthroughReason
	}
	return newEvalReasonFallthrough()
}

func (f *FeatureFlag) reasonTargetMatch() EvaluationReason {
	if f.targetMatchReason.kind != "" {
		return f.targetMatchReason
	}
	return newEvalReasonTargetMatch()
}

func (f *FeatureFlag) reasonRuleMatch(ruleIndex int) EvaluationReason {
	if ruleIndex < len(f.ruleMatchReasons) {
		return f.ruleMatchReasons[ruleIndex]
	}
	return newEvalReasonRuleMatch(ruleIndex, f.Rules[ruleIndex].Id)
}

func (f *FeatureFlag) reasonPrerequisiteFailed(prereqIndex int) EvaluationReason {
	if prereqIndex < len(f.prereqFailReasons) {
		return f.prereqFailReasons[prereqIndex]
	}
	return newEvalReasonPrerequisiteFailed(f.Prerequisites[prereqIndex].Key)
}

func (r Rule) matchesUser(store FeatureStore, user User) (bool, error) {
	for _, clause := range r.Clauses {
		match, err := clause.matchesUser(store, user)
		if err != nil || !match {
			return false, err
		}
	}
	return true, nil
}

func (c Clause) matchesUser(store FeatureStore, user User) (bool, error) {
	if c.Op == operatorSegmentMatch {
		for _, value := range c.Values {
			if !value.IsString() {
				continue
			}
			data, err := store.Get(Segments, value.StringValue())
			if err != nil {
				return false, err
			}
			if segment, ok := data.(*Segment); ok && segment != nil && segment.ContainsUser(user) {
				return c.maybeNegate(true), nil
			}
		}
		return c.maybeNegate(false), nil
	}
	return c.matchesUserNoSegments(user), nil
}

func (c Clause) matchesUserNoSegments(user User) bool {
	uValue := user.valueOf(c.Attribute)
	if uValue.IsNull() {
		return false
	}
	matchFn := operatorFn(c.Op)

	// If the user value is an array, see if the intersection with the clause values is
	// non-empty. If so, this clause matches.
	if uValue.Type() == ldvalue.ArrayType {
		for i := 0; i < uValue.Count(); i++ {
			if matchAny(matchFn, uValue.GetByIndex(i), c.Values) {
				return c.maybeNegate(true)
			}
		}
		return c.maybeNegate(false)
	}

	return c.maybeNegate(matchAny(matchFn, uValue, c.Values))
}

func (c Clause) maybeNegate(b bool) bool {
	if c.Negate {
		return !b
	}
	return b
}

func matchAny(fn opFn, value ldvalue.Value, values []ldvalue.Value) bool {
	for _, v := range values {
		if fn(value, v) {
			return true
		}
	}
	return false
}
