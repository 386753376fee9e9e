package ldclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

func assertReasonSerialization(t *testing.T, reason EvaluationReason, expectedJSON string, expectedString string) {
	actual, err := json.Marshal(reason)
	assert.NoError(t, err)
	assert.JSONEq(t, expectedJSON, string(actual))
	assert.Equal(t, expectedString, reason.String())

	var r1 EvaluationReason
	err = json.Unmarshal(actual, &r1)
	assert.NoError(t, err)
	assert.Equal(t, reason, r1)
}

func TestOffReasonSerialization(t *testing.T) {
	assertReasonSerialization(t, newEvalReasonOff(), `{"kind":"OFF"}`, "OFF")
}

func TestFallthroughReasonSerialization(t *testing.T) {
	assertReasonSerialization(t, newEvalReasonFallthrough(), `{"kind":"FALLTHROUGH"}`, "FALLTHROUGH")
}

func TestTargetMatchReasonSerialization(t *testing.T) {
	assertReasonSerialization(t, newEvalReasonTargetMatch(), `{"kind":"TARGET_MATCH"}`, "TARGET_MATCH")
}

func TestRuleMatchReasonSerialization(t *testing.T) {
	reason := newEvalReasonRuleMatch(1, "id")
	assertReasonSerialization(t, reason, `{"kind":"RULE_MATCH","ruleIndex":1,"ruleId":"id"}`,
		"RULE_MATCH(1,id)")
	assert.Equal(t, 1, reason.GetRuleIndex())
	assert.Equal(t, "id", reason.GetRuleID())
}

func TestPrerequisiteFailedReasonSerialization(t *testing.T) {
	reason := newEvalReasonPrerequisiteFailed("key")
	assertReasonSerialization(t, reason, `{"kind":"PREREQUISITE_FAILED","prerequisiteKey":"key"}`,
		"PREREQUISITE_FAILED(key)")
	assert.Equal(t, "key", reason.GetPrerequisiteKey())
}

func TestErrorReasonSerialization(t *testing.T) {
	reason := newEvalReasonError(EvalErrorException)
	assertReasonSerialization(t, reason, `{"kind":"ERROR","errorKind":"EXCEPTION"}`,
		"ERROR(EXCEPTION)")
	assert.Equal(t, EvalErrorException, reason.GetErrorKind())
}

func TestEmptyReasonSerializationAsNull(t *testing.T) {
	reason := EvaluationReason{}
	actual, err := json.Marshal(reason)
	assert.NoError(t, err)
	assert.Equal(t, "null", string(actual))
}

func TestReasonAccessorsReturnZeroValuesForWrongKind(t *testing.T) {
	reason := newEvalReasonOff()
	assert.Equal(t, -1, reason.GetRuleIndex())
	assert.Equal(t, "", reason.GetRuleID())
	assert.Equal(t, "", reason.GetPrerequisiteKey())
	assert.Equal(t, EvalErrorKind(""), reason.GetErrorKind())
}

func TestNewEvaluationDetailSetsDeprecatedValue(t *testing.T) {
	detail := NewEvaluationDetail(ldvalue.String("x"), intPtr(1), newEvalReasonFallthrough())
	assert.Equal(t, "x", detail.Value)
	assert.Equal(t, ldvalue.String("x"), detail.JSONValue)
	assert.False(t, detail.IsDefaultValue())

	errDetail := NewEvaluationError(ldvalue.Null(), EvalErrorFlagNotFound)
	assert.True(t, errDetail.IsDefaultValue())
	assert.Equal(t, newEvalReasonError(EvalErrorFlagNotFound), errDetail.Reason)
}
