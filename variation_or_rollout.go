package ldclient

import (
	"crypto/sha1" //nolint:gas // SHA1 is used only for deterministic bucketing, not cryptographically
	"encoding/hex"
	"io"
	"strconv"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

const (
	longScale = float32(0xFFFFFFFFFFFFFFF)

	userKeyAttr = "key"
)

// variationIndexForUser returns the variation of a VariationOrRollout for the given user,
// and whether one could be determined at all. The second return value is false only when
// the data is malformed: neither a variation nor a non-empty rollout is present.
func (r VariationOrRollout) variationIndexForUser(user User, key, salt string) (int, bool) {
	if r.Variation != nil {
		return *r.Variation, true
	}
	if r.Rollout == nil || len(r.Rollout.Variations) == 0 {
		return 0, false
	}

	bucketBy := userKeyAttr
	if r.Rollout.BucketBy != nil {
		bucketBy = *r.Rollout.BucketBy
	}

	bucket := bucketUser(user, key, bucketBy, salt)
	sum := float32(0.0)

	for _, wv := range r.Rollout.Variations {
		sum += float32(wv.Weight) / 100000.0
		if bucket < sum {
			return wv.Variation, true
		}
	}

	// The user's bucket value was greater than or equal to the end of the last bucket.
	// This could happen due to a rounding error, or due to the fact that we are scaling
	// to 100000 rather than 99999, or the flag data could contain buckets that don't
	// actually add up to 100000. Rather than returning an error in this case (or changing
	// the scaling, which would potentially change the results for *all* users), we
	// consider the user to be in the last bucket.
	return r.Rollout.Variations[len(r.Rollout.Variations)-1].Variation, true
}

// bucketUser returns a deterministic value in [0, 1) for the user based on the hash of the
// flag or segment key, the salt, and the chosen bucketing attribute. The result must agree
// exactly with every other SDK so that rollouts are consistent across platforms.
func bucketUser(user User, key, attr, salt string) float32 {
	idHash, ok := bucketableStringValue(user.valueOf(attr))
	if !ok {
		return 0
	}

	if user.Secondary != nil {
		idHash = idHash + "." + *user.Secondary
	}

	h := sha1.New() //nolint:gas
	_, _ = io.WriteString(h, key+"."+salt+"."+idHash)
	hash := hex.EncodeToString(h.Sum(nil))[:15]

	intVal, _ := strconv.ParseInt(hash, 16, 64)

	return float32(intVal) / longScale
}

// A string attribute is bucketed on its value; an integer is bucketed on its base-10
// string form. Any other type always produces bucket 0.
func bucketableStringValue(uValue ldvalue.Value) (string, bool) {
	if uValue.IsString() {
		return uValue.StringValue(), true
	}
	if uValue.IsInt() {
		return strconv.Itoa(uValue.IntValue()), true
	}
	return "", false
}
