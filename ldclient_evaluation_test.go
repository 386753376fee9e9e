package ldclient

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldlog"
	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

var evalTestUser = NewUser("userkey")

// Returns a flag that is on and returns the specified fallthrough variation for all users.
func makeTestFlag(key string, fallthroughVariation int, variations ...ldvalue.Value) *FeatureFlag {
	return &FeatureFlag{
		Key:         key,
		Version:     1,
		On:          true,
		Fallthrough: VariationOrRollout{Variation: &fallthroughVariation},
		Variations:  variations,
	}
}

func makeClientWithFlags(flags ...*FeatureFlag) *LDClient {
	client := makeTestClient()
	for _, flag := range flags {
		_ = client.store.Upsert(Features, flag)
	}
	return client
}

func TestBoolVariation(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.Bool(false), ldvalue.Bool(true))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, err := client.BoolVariation(flag.Key, evalTestUser, false)
	assert.NoError(t, err)
	assert.True(t, value)
}

func TestBoolVariationDetail(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.Bool(false), ldvalue.Bool(true))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.BoolVariationDetail(flag.Key, evalTestUser, false)
	assert.NoError(t, err)
	assert.True(t, value)
	assert.Equal(t, ldvalue.Bool(true), detail.JSONValue)
	assert.Equal(t, intPtr(1), detail.VariationIndex)
	assert.Equal(t, newEvalReasonFallthrough(), detail.Reason)
}

func TestIntVariation(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.Int(-1), ldvalue.Int(100))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, err := client.IntVariation(flag.Key, evalTestUser, 0)
	assert.NoError(t, err)
	assert.Equal(t, 100, value)
}

func TestIntVariationTruncatesFloatValue(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.Float64(-1.5), ldvalue.Float64(100.01))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, err := client.IntVariation(flag.Key, evalTestUser, 0)
	assert.NoError(t, err)
	assert.Equal(t, 100, value)
}

func TestIntVariationDetail(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.Int(-1), ldvalue.Int(100))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.IntVariationDetail(flag.Key, evalTestUser, 0)
	assert.NoError(t, err)
	assert.Equal(t, 100, value)
	assert.Equal(t, ldvalue.Int(100), detail.JSONValue)
	assert.Equal(t, intPtr(1), detail.VariationIndex)
	assert.Equal(t, newEvalReasonFallthrough(), detail.Reason)
}

func TestFloat64Variation(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.Float64(-1.0), ldvalue.Float64(100.01))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, err := client.Float64Variation(flag.Key, evalTestUser, 0)
	assert.NoError(t, err)
	assert.Equal(t, 100.01, value)
}

func TestFloat64VariationDetail(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.Float64(-1.0), ldvalue.Float64(100.01))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.Float64VariationDetail(flag.Key, evalTestUser, 0)
	assert.NoError(t, err)
	assert.Equal(t, 100.01, value)
	assert.Equal(t, ldvalue.Float64(100.01), detail.JSONValue)
	assert.Equal(t, intPtr(1), detail.VariationIndex)
}

func TestStringVariation(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.String("a"), ldvalue.String("b"))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, err := client.StringVariation(flag.Key, evalTestUser, "default")
	assert.NoError(t, err)
	assert.Equal(t, "b", value)
}

func TestStringVariationDetail(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.String("a"), ldvalue.String("b"))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.StringVariationDetail(flag.Key, evalTestUser, "default")
	assert.NoError(t, err)
	assert.Equal(t, "b", value)
	assert.Equal(t, ldvalue.String("b"), detail.JSONValue)
	assert.Equal(t, intPtr(1), detail.VariationIndex)
}

func TestJSONVariation(t *testing.T) {
	expectedValue := ldvalue.ObjectBuild().Set("field2", ldvalue.String("value2")).Build()
	flag := makeTestFlag("flagKey", 1, ldvalue.Null(), expectedValue)
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, err := client.JSONVariation(flag.Key, evalTestUser, ldvalue.String("default"))
	assert.NoError(t, err)
	assert.Equal(t, expectedValue, value)
}

func TestJSONVariationDetail(t *testing.T) {
	expectedValue := ldvalue.ObjectBuild().Set("field2", ldvalue.String("value2")).Build()
	flag := makeTestFlag("flagKey", 1, ldvalue.Null(), expectedValue)
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.JSONVariationDetail(flag.Key, evalTestUser, ldvalue.String("default"))
	assert.NoError(t, err)
	assert.Equal(t, expectedValue, value)
	assert.Equal(t, expectedValue, detail.JSONValue)
	assert.Equal(t, intPtr(1), detail.VariationIndex)
	assert.Equal(t, newEvalReasonFallthrough(), detail.Reason)
}

func TestTypedVariationReturnsDefaultForWrongType(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.String("a"), ldvalue.String("b"))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.IntVariationDetail(flag.Key, evalTestUser, 42)
	assert.Error(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, ldvalue.Int(42), detail.JSONValue)
	assert.Nil(t, detail.VariationIndex)
	assert.Equal(t, newEvalReasonError(EvalErrorWrongType), detail.Reason)
}

func TestEvaluationErrorDescribesUserKeyOnlyIfConfigured(t *testing.T) {
	makeClient := func(logUserKeyInErrors bool, logOutput *bytes.Buffer) *LDClient {
		client := makeTestClientWithConfig(func(c *Config) {
			c.LogUserKeyInErrors = logUserKeyInErrors
			c.Loggers = ldlog.Loggers{}
			c.Loggers.SetBaseLogger(log.New(logOutput, "", 0))
		})
		flag := makeTestFlag("flagKey", 1, ldvalue.String("a"), ldvalue.String("b"))
		_ = client.store.Upsert(Features, flag)
		return client
	}

	t.Run("key is obscured by default", func(t *testing.T) {
		var logOutput bytes.Buffer
		client := makeClient(false, &logOutput)
		defer client.Close()

		_, err := client.IntVariation("flagKey", evalTestUser, 42)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a user (enable LogUserKeyInErrors to see the user key)")
		assert.NotContains(t, logOutput.String(), "userkey")
	})

	t.Run("key appears when LogUserKeyInErrors is set", func(t *testing.T) {
		var logOutput bytes.Buffer
		client := makeClient(true, &logOutput)
		defer client.Close()

		_, err := client.IntVariation("flagKey", evalTestUser, 42)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "user 'userkey'")
		assert.Contains(t, logOutput.String(), "user 'userkey'")
	})
}

func TestVariationReturnsDefaultForUnknownFlag(t *testing.T) {
	client := makeTestClient()
	defer client.Close()

	value, detail, err := client.StringVariationDetail("no-such-flag", evalTestUser, "default")
	assert.Error(t, err)
	assert.Equal(t, "default", value)
	assert.Nil(t, detail.VariationIndex)
	assert.Equal(t, newEvalReasonError(EvalErrorFlagNotFound), detail.Reason)
}

func TestVariationReturnsDefaultIfClientAndStoreAreNotInitialized(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.String("a"), ldvalue.String("b"))
	client := makeTestClientWithConfig(func(c *Config) {
		c.UpdateProcessor = mockUpdateProcessor{IsInitialized: false}
	})
	defer client.Close()
	// The flag is in the store but Init was never called, so the store does not count as initialized
	_ = client.store.Upsert(Features, flag)

	value, detail, err := client.StringVariationDetail(flag.Key, evalTestUser, "default")
	assert.Equal(t, ErrClientNotInitialized, err)
	assert.Equal(t, "default", value)
	assert.Equal(t, newEvalReasonError(EvalErrorClientNotReady), detail.Reason)
}

func TestVariationUsesStoreIfClientIsNotInitializedButStoreIs(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.String("a"), ldvalue.String("b"))
	client := makeTestClientWithConfig(func(c *Config) {
		c.UpdateProcessor = mockUpdateProcessor{IsInitialized: false}
	})
	defer client.Close()
	require.NoError(t, client.store.Init(map[VersionedDataKind]map[string]VersionedData{
		Features: {flag.Key: flag},
	}))

	value, err := client.StringVariation(flag.Key, evalTestUser, "default")
	assert.NoError(t, err)
	assert.Equal(t, "b", value)
}

func TestVariationReturnsDefaultIfUserKeyIsNil(t *testing.T) {
	flag := makeTestFlag("flagKey", 1, ldvalue.String("a"), ldvalue.String("b"))
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.StringVariationDetail(flag.Key, User{}, "default")
	assert.Error(t, err)
	assert.Equal(t, "default", value)
	assert.Equal(t, newEvalReasonError(EvalErrorUserNotSpecified), detail.Reason)
}

func TestVariationReturnsDefaultForMalformedFlag(t *testing.T) {
	flag := &FeatureFlag{
		Key:         "flagKey",
		Version:     1,
		On:          true,
		Fallthrough: VariationOrRollout{}, // neither a variation nor a rollout
		Variations:  []ldvalue.Value{ldvalue.String("a")},
	}
	client := makeClientWithFlags(flag)
	defer client.Close()

	value, detail, err := client.StringVariationDetail(flag.Key, evalTestUser, "default")
	assert.NoError(t, err)
	assert.Equal(t, "default", value)
	assert.Equal(t, newEvalReasonError(EvalErrorMalformedFlag), detail.Reason)
}
