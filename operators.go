package ldclient

import (
	"regexp"
	"strings"
	"time"

	"github.com/blang/semver/v4"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

// Operator describes an operator for a clause.
type Operator string

// List of available operators
const (
	operatorIn                 Operator = "in"
	operatorEndsWith           Operator = "endsWith"
	operatorStartsWith         Operator = "startsWith"
	operatorMatches            Operator = "matches"
	operatorContains           Operator = "contains"
	operatorLessThan           Operator = "lessThan"
	operatorLessThanOrEqual    Operator = "lessThanOrEqual"
	operatorGreaterThan        Operator = "greaterThan"
	operatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	operatorBefore             Operator = "before"
	operatorAfter              Operator = "after"
	operatorSegmentMatch       Operator = "segmentMatch"
	operatorSemVerEqual        Operator = "semVerEqual"
	operatorSemVerLessThan     Operator = "semVerLessThan"
	operatorSemVerGreaterThan  Operator = "semVerGreaterThan"
)

type opFn (func(ldvalue.Value, ldvalue.Value) bool)

// Name returns the string name for an operator
func (op Operator) Name() string {
	return string(op)
}

var allOps = map[Operator]opFn{
	operatorIn:                 operatorInFn,
	operatorEndsWith:           operatorEndsWithFn,
	operatorStartsWith:         operatorStartsWithFn,
	operatorMatches:            operatorMatchesFn,
	operatorContains:           operatorContainsFn,
	operatorLessThan:           operatorLessThanFn,
	operatorLessThanOrEqual:    operatorLessThanOrEqualFn,
	operatorGreaterThan:        operatorGreaterThanFn,
	operatorGreaterThanOrEqual: operatorGreaterThanOrEqualFn,
	operatorBefore:             operatorBeforeFn,
	operatorAfter:              operatorAfterFn,
	operatorSemVerEqual:        operatorSemVerEqualFn,
	operatorSemVerLessThan:     operatorSemVerLessThanFn,
	operatorSemVerGreaterThan:  operatorSemVerGreaterThanFn,
}

// Note that segmentMatch is deliberately not in allOps; it is handled specially by
// clauseMatchesUser because it requires a store lookup. An unrecognized operator never
// matches, so clauses with operators from future SDK versions parse and evaluate safely.
func operatorFn(operator Operator) opFn {
	if op, ok := allOps[operator]; ok {
		return op
	}
	return operatorNoneFn
}

func operatorInFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return uValue.Equal(cValue)
}

func stringOperator(uValue ldvalue.Value, cValue ldvalue.Value, fn func(string, string) bool) bool {
	if uValue.IsString() && cValue.IsString() {
		return fn(uValue.StringValue(), cValue.StringValue())
	}
	return false
}

func operatorStartsWithFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return stringOperator(uValue, cValue, strings.HasPrefix)
}

func operatorEndsWithFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return stringOperator(uValue, cValue, strings.HasSuffix)
}

func operatorMatchesFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return stringOperator(uValue, cValue, func(u string, c string) bool {
		// An invalid regex is a non-match rather than an error.
		if matched, err := regexp.MatchString(c, u); err == nil {
			return matched
		}
		return false
	})
}

func operatorContainsFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return stringOperator(uValue, cValue, strings.Contains)
}

func numericOperator(uValue ldvalue.Value, cValue ldvalue.Value, fn func(float64, float64) bool) bool {
	if uValue.IsNumber() && cValue.IsNumber() {
		return fn(uValue.Float64Value(), cValue.Float64Value())
	}
	return false
}

func operatorLessThanFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u < c })
}

func operatorLessThanOrEqualFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u <= c })
}

func operatorGreaterThanFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u > c })
}

func operatorGreaterThanOrEqualFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u >= c })
}

func dateOperator(uValue ldvalue.Value, cValue ldvalue.Value, fn func(time.Time, time.Time) bool) bool {
	if uTime, ok := parseDateTime(uValue); ok {
		if cTime, ok := parseDateTime(cValue); ok {
			return fn(uTime, cTime)
		}
	}
	return false
}

func operatorBeforeFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return dateOperator(uValue, cValue, time.Time.Before)
}

func operatorAfterFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return dateOperator(uValue, cValue, time.Time.After)
}

func semVerOperator(uValue ldvalue.Value, cValue ldvalue.Value, fn func(semver.Version, semver.Version) bool) bool {
	if u, ok := parseSemVer(uValue); ok {
		if c, ok := parseSemVer(cValue); ok {
			return fn(u, c)
		}
	}
	return false
}

func operatorSemVerEqualFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return semVerOperator(uValue, cValue, semver.Version.EQ)
}

func operatorSemVerLessThanFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return semVerOperator(uValue, cValue, semver.Version.LT)
}

func operatorSemVerGreaterThanFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return semVerOperator(uValue, cValue, semver.Version.GT)
}

func operatorNoneFn(uValue ldvalue.Value, cValue ldvalue.Value) bool {
	return false
}

// Layout for RFC 3339 timestamps that omit the time zone offset; these are treated as UTC.
const dateTimeLayoutWithoutZone = "2006-01-02T15:04:05.999999999"

// parseDateTime accepts either a string in RFC 3339 format (with a missing time zone offset
// meaning UTC) or a number of epoch milliseconds.
func parseDateTime(value ldvalue.Value) (time.Time, bool) {
	switch {
	case value.IsString():
		s := value.StringValue()
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		if t, err := time.Parse(dateTimeLayoutWithoutZone, s); err == nil {
			return t, true
		}
		return time.Time{}, false
	case value.IsNumber():
		return unixMillisToUtcTime(value.Float64Value()), true
	}
	return time.Time{}, false
}

var versionNumericComponentsRegex = regexp.MustCompile(`^\d+(\.\d+)?(\.\d+)?`)

// parseSemVer tolerates a missing minor or patch version by zero-filling it, so "2" and
// "2.1" are accepted as "2.0.0" and "2.1.0". Anything else that blang/semver rejects is
// treated as unparseable.
func parseSemVer(value ldvalue.Value) (semver.Version, bool) {
	if !value.IsString() {
		return semver.Version{}, false
	}
	versionStr := value.StringValue()
	if sv, err := semver.Parse(versionStr); err == nil {
		return sv, true
	}
	if matchParts := versionNumericComponentsRegex.FindStringSubmatch(versionStr); matchParts != nil {
		transformedVersionStr := matchParts[0]
		for i := 1; i < len(matchParts); i++ {
			if matchParts[i] == "" {
				transformedVersionStr += ".0"
			}
		}
		transformedVersionStr += versionStr[len(matchParts[0]):]
		if sv, err := semver.Parse(transformedVersionStr); err == nil {
			return sv, true
		}
	}
	return semver.Version{}, false
}
