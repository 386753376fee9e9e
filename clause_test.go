package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

var (
	key              = "sample-key"
	gmailAddress     = "foo@gmail.com"
	microsoftAddress = "bar@microsoft.com"
)

var yammerCustom = map[string]ldvalue.Value{
	"group": ldvalue.ArrayOf(ldvalue.String("Yammer"), ldvalue.String("Microsoft")),
}
var youtubeCustom = map[string]ldvalue.Value{
	"group": ldvalue.ArrayOf(ldvalue.String("Youtube"), ldvalue.String("Google")),
}

// email endsWith {gmail.com, hotmail.com}
var hotmailOrGmailClause = Clause{
	Attribute: "email",
	Op:        operatorEndsWith,
	Values:    []ldvalue.Value{ldvalue.String("gmail.com"), ldvalue.String("hotmail.com")},
	Negate:    false,
}

// group in {Microsoft, Google}
var msOrGoogleClause = Clause{
	Attribute: "group",
	Op:        operatorIn,
	Values:    []ldvalue.Value{ldvalue.String("Microsoft"), ldvalue.String("Google")},
	Negate:    false,
}

// not(group in {Youtube, Nest})
var notYoutubeOrNest = Clause{
	Attribute: "group",
	Op:        operatorIn,
	Values:    []ldvalue.Value{ldvalue.String("Youtube"), ldvalue.String("Nest")},
	Negate:    true,
}

var msEmployee = User{
	Key:    &key,
	Email:  &microsoftAddress,
	Custom: &yammerCustom,
}

var googleEmployee = User{
	Key:    &key,
	Email:  &gmailAddress,
	Custom: &youtubeCustom,
}

func TestHotmailOrGmailEmail(t *testing.T) {
	assert.True(t, hotmailOrGmailClause.matchesUserNoSegments(googleEmployee),
		"Expecting Google employee to match email rule")
}

func TestMsOrGoogleGroup(t *testing.T) {
	assert.True(t, msOrGoogleClause.matchesUserNoSegments(googleEmployee),
		"Expecting Google employee to match groups rule")
}

func TestNotYoutubeOrNest(t *testing.T) {
	assert.True(t, notYoutubeOrNest.matchesUserNoSegments(msEmployee),
		"Expecting Microsoft employee to match not Youtube rule")
	assert.False(t, notYoutubeOrNest.matchesUserNoSegments(googleEmployee),
		"Expecting Google employee to not match Youtube rule")
}

func TestClauseCanMatchBuiltInAttribute(t *testing.T) {
	clause := Clause{
		Attribute: "name",
		Op:        "in",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}
	assert.True(t, clause.matchesUserNoSegments(user))
}

func TestClauseCanMatchCustomAttribute(t *testing.T) {
	clause := Clause{
		Attribute: "legs",
		Op:        "in",
		Values:    []ldvalue.Value{ldvalue.Int(4)},
	}
	custom := map[string]ldvalue.Value{"legs": ldvalue.Int(4)}
	user := User{Key: strPtr("key"), Custom: &custom}
	assert.True(t, clause.matchesUserNoSegments(user))
}

func TestClauseReturnsFalseForMissingAttribute(t *testing.T) {
	clause := Clause{
		Attribute: "legs",
		Op:        "in",
		Values:    []ldvalue.Value{ldvalue.Int(4)},
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}
	assert.False(t, clause.matchesUserNoSegments(user))
}

func TestClauseCanBeNegated(t *testing.T) {
	clause := Clause{
		Attribute: "name",
		Op:        "in",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
		Negate:    true,
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}
	assert.False(t, clause.matchesUserNoSegments(user))
}

func TestClauseForMissingAttributeIsFalseEvenIfNegated(t *testing.T) {
	clause := Clause{
		Attribute: "legs",
		Op:        "in",
		Values:    []ldvalue.Value{ldvalue.Int(4)},
		Negate:    true,
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}
	assert.False(t, clause.matchesUserNoSegments(user))
}

func TestClauseWithUnknownOperatorDoesNotMatch(t *testing.T) {
	clause := Clause{
		Attribute: "name",
		Op:        "doesSomethingUnsupported",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}
	assert.False(t, clause.matchesUserNoSegments(user))
}

func TestClauseWithUnknownOperatorDoesNotStopSubsequentRuleFromMatching(t *testing.T) {
	badClause := Clause{
		Attribute: "name",
		Op:        "doesSomethingUnsupported",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
	}
	badRule := Rule{Clauses: []Clause{badClause}, VariationOrRollout: VariationOrRollout{Variation: intPtr(1)}}
	goodClause := Clause{
		Attribute: "name",
		Op:        "in",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
	}
	goodRule := Rule{Clauses: []Clause{goodClause}, VariationOrRollout: VariationOrRollout{Variation: intPtr(1)}}
	f := FeatureFlag{
		Key:         "feature",
		On:          true,
		Rules:       []Rule{badRule, goodRule},
		Fallthrough: VariationOrRollout{Variation: intPtr(0)},
		Variations:  []ldvalue.Value{ldvalue.Bool(false), ldvalue.Bool(true)},
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	detail, _ := f.EvaluateDetail(user, emptyFeatureStore, false)
	assert.Equal(t, ldvalue.Bool(true), detail.JSONValue)
	assert.Equal(t, newEvalReasonRuleMatch(1, ""), detail.Reason)
}

func TestClauseWithNullOperatorDoesNotMatch(t *testing.T) {
	clause := Clause{
		Attribute: "name",
		Op:        "",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}
	assert.False(t, clause.matchesUserNoSegments(user))
}

func TestClauseWithNullOperatorDoesNotStopSubsequentRuleFromMatching(t *testing.T) {
	badClause := Clause{
		Attribute: "name",
		Op:        "",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
	}
	badRule := Rule{Clauses: []Clause{badClause}, VariationOrRollout: VariationOrRollout{Variation: intPtr(1)}}
	goodClause := Clause{
		Attribute: "name",
		Op:        "in",
		Values:    []ldvalue.Value{ldvalue.String("Bob")},
	}
	goodRule := Rule{Clauses: []Clause{goodClause}, VariationOrRollout: VariationOrRollout{Variation: intPtr(1)}}
	f := FeatureFlag{
		Key:         "feature",
		On:          true,
		Rules:       []Rule{badRule, goodRule},
		Fallthrough: VariationOrRollout{Variation: intPtr(0)},
		Variations:  []ldvalue.Value{ldvalue.Bool(false), ldvalue.Bool(true)},
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	detail, _ := f.EvaluateDetail(user, emptyFeatureStore, false)
	assert.Equal(t, ldvalue.Bool(true), detail.JSONValue)
	assert.Equal(t, newEvalReasonRuleMatch(1, ""), detail.Reason)
}

func TestSegmentMatchClauseRetrievesSegmentFromStore(t *testing.T) {
	segment := Segment{
		Key:      "segkey",
		Included: []string{"foo"},
	}
	f := booleanFlagWithClause(Clause{Op: "segmentMatch", Values: []ldvalue.Value{ldvalue.String("segkey")}})
	featureStore := NewInMemoryFeatureStore(nil)
	_ = featureStore.Upsert(Segments, &segment)
	user := NewUser("foo")

	detail, _ := f.EvaluateDetail(user, featureStore, false)
	assert.Equal(t, ldvalue.Bool(true), detail.JSONValue)
}

func TestSegmentMatchClauseFallsThroughIfSegmentNotFound(t *testing.T) {
	f := booleanFlagWithClause(Clause{Op: "segmentMatch", Values: []ldvalue.Value{ldvalue.String("segkey")}})
	user := NewUser("foo")

	detail, _ := f.EvaluateDetail(user, emptyFeatureStore, false)
	assert.Equal(t, ldvalue.Bool(false), detail.JSONValue)
}
