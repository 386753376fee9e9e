// Package ldvalue provides the Value type, an immutable representation of any JSON data type.
// LaunchDarkly supports the standard JSON types of null, boolean, number, string, array, and
// object (map) for any feature flag variation or custom user attribute.
//
// Value is guaranteed to be immutable: arrays and objects are deep-copied on construction and
// are never exposed as mutable slices or maps. This avoids the aliasing problems that come with
// passing JSON data around as interface{}.
package ldvalue

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"
)

// ValueType indicates which JSON type is contained in a Value.
type ValueType int

const (
	// NullType describes a null value.
	NullType ValueType = iota
	// BoolType describes a boolean value.
	BoolType
	// NumberType describes a numeric value. JSON does not have separate types for int and float,
	// but you can convert to either.
	NumberType
	// StringType describes a string value.
	StringType
	// ArrayType describes an array value.
	ArrayType
	// ObjectType describes an object (a.k.a. map).
	ObjectType
)

// String returns the name of the value type.
func (t ValueType) String() string {
	switch t {
	case NullType:
		return "null"
	case BoolType:
		return "bool"
	case NumberType:
		return "number"
	case StringType:
		return "string"
	case ArrayType:
		return "array"
	case ObjectType:
		return "object"
	default:
		return "unknown"
	}
}

// Value represents any of the data types supported by JSON, all of which can be used for a
// feature flag variation or a custom user attribute.
type Value struct {
	// The zero value of ValueType is NullType, so the zero of Value is a null value.
	valueType   ValueType
	boolValue   bool
	numberValue float64
	stringValue string
	arrayValue  []Value
	objectValue map[string]Value
}

// Null creates a null Value.
//
// Note that the zero value of Value is also a null value.
func Null() Value {
	return Value{valueType: NullType}
}

// Bool creates a boolean Value.
func Bool(value bool) Value {
	return Value{valueType: BoolType, boolValue: value}
}

// Int creates a numeric Value from an integer.
//
// Note that all numbers are represented internally as the same type (float64), so Int(2) is
// exactly equal to Float64(2).
func Int(value int) Value {
	return Float64(float64(value))
}

// Float64 creates a numeric Value from a float64.
func Float64(value float64) Value {
	return Value{valueType: NumberType, numberValue: value}
}

// String creates a string Value.
func String(value string) Value {
	return Value{valueType: StringType, stringValue: value}
}

// ArrayOf creates an array Value from a list of Values.
//
// This requires a slice copy to ensure immutability; otherwise, an existing slice could be
// passed using the spread operator, and then modified.
func ArrayOf(items ...Value) Value {
	copied := make([]Value, len(items))
	copy(copied, items)
	return Value{valueType: ArrayType, arrayValue: copied}
}

// ObjectBuild creates a builder for constructing an immutable JSON object Value.
//
//	objValue := ldvalue.ObjectBuild().Set("a", ldvalue.Int(100)).Set("b", ldvalue.Int(200)).Build()
func ObjectBuild() *ObjectBuilder {
	return &ObjectBuilder{output: make(map[string]Value)}
}

// ObjectBuilder is a builder created by ObjectBuild(), for creating immutable JSON objects.
type ObjectBuilder struct {
	output map[string]Value
}

// Set sets a key-value pair in the object builder.
func (b *ObjectBuilder) Set(name string, value Value) *ObjectBuilder {
	b.output[name] = value
	return b
}

// Build creates a Value containing the previously specified key-value pairs. Continuing to
// modify the same builder by calling Set after that point does not affect the returned object.
func (b *ObjectBuilder) Build() Value {
	copied := make(map[string]Value, len(b.output))
	for k, v := range b.output {
		copied[k] = v
	}
	return Value{valueType: ObjectType, objectValue: copied}
}

// CopyArbitraryValue creates a Value from an arbitrary interface{} value of any type.
//
// If the value is nil, a boolean, an integer, a floating-point number, or a string, the
// corresponding Value type is used. If it is a slice or a map, it is deep-copied. Any other
// type is marshaled to JSON and parsed back; if that fails, the result is Null().
func CopyArbitraryValue(valueAsInterface interface{}) Value {
	switch o := valueAsInterface.(type) {
	case nil:
		return Null()
	case Value:
		return o
	case bool:
		return Bool(o)
	case int:
		return Int(o)
	case int8:
		return Int(int(o))
	case int16:
		return Int(int(o))
	case int32:
		return Int(int(o))
	case int64:
		return Float64(float64(o))
	case uint:
		return Float64(float64(o))
	case uint8:
		return Int(int(o))
	case uint16:
		return Int(int(o))
	case uint32:
		return Float64(float64(o))
	case uint64:
		return Float64(float64(o))
	case float32:
		return Float64(float64(o))
	case float64:
		return Float64(o)
	case string:
		return String(o)
	case []interface{}:
		items := make([]Value, len(o))
		for i, v := range o {
			items[i] = CopyArbitraryValue(v)
		}
		return Value{valueType: ArrayType, arrayValue: items}
	case map[string]interface{}:
		m := make(map[string]Value, len(o))
		for k, v := range o {
			m[k] = CopyArbitraryValue(v)
		}
		return Value{valueType: ObjectType, objectValue: m}
	case json.RawMessage:
		return Parse(o)
	default:
		data, err := json.Marshal(valueAsInterface)
		if err != nil {
			return Null()
		}
		return Parse(data)
	}
}

// Parse returns a Value parsed from a JSON string, or Null() if it cannot be parsed.
func Parse(jsonData []byte) Value {
	var v Value
	if err := json.Unmarshal(jsonData, &v); err != nil {
		return Null()
	}
	return v
}

// Type returns the ValueType of the Value.
func (v Value) Type() ValueType {
	return v.valueType
}

// IsNull returns true if the Value is a null.
func (v Value) IsNull() bool {
	return v.valueType == NullType
}

// IsBool returns true if the Value is a boolean.
func (v Value) IsBool() bool {
	return v.valueType == BoolType
}

// IsNumber returns true if the Value is numeric.
func (v Value) IsNumber() bool {
	return v.valueType == NumberType
}

// IsInt returns true if the Value is an integer.
//
// JSON does not have separate types for integer and floating-point values; they are both just
// numbers. IsInt returns true if and only if the actual numeric value has no fractional
// component, so Int(2).IsInt() and Float64(2.0).IsInt() are both true.
func (v Value) IsInt() bool {
	if v.valueType == NumberType {
		return v.numberValue == float64(int(v.numberValue))
	}
	return false
}

// IsString returns true if the Value is a string.
func (v Value) IsString() bool {
	return v.valueType == StringType
}

// BoolValue returns the Value as a boolean.
//
// If the Value is not a boolean, it returns false.
func (v Value) BoolValue() bool {
	return v.valueType == BoolType && v.boolValue
}

// IntValue returns the value as an int.
//
// If the Value is not numeric, it returns zero. If the value is a number but not an integer,
// it is rounded toward zero (truncated).
func (v Value) IntValue() int {
	if v.valueType == NumberType {
		return int(v.numberValue)
	}
	return 0
}

// Float64Value returns the value as a float64.
//
// If the Value is not numeric, it returns zero.
func (v Value) Float64Value() float64 {
	if v.valueType == NumberType {
		return v.numberValue
	}
	return 0
}

// StringValue returns the value as a string.
//
// If the value is not a string, it returns an empty string.
func (v Value) StringValue() string {
	if v.valueType == StringType {
		return v.stringValue
	}
	return ""
}

// Count returns the number of elements in an array or JSON object.
//
// For values of any other type, it returns zero.
func (v Value) Count() int {
	switch v.valueType {
	case ArrayType:
		return len(v.arrayValue)
	case ObjectType:
		return len(v.objectValue)
	}
	return 0
}

// GetByIndex gets an element of an array by index.
//
// If the value is not an array, or if the index is out of range, it returns Null().
func (v Value) GetByIndex(index int) Value {
	if v.valueType == ArrayType && index >= 0 && index < len(v.arrayValue) {
		return v.arrayValue[index]
	}
	return Null()
}

// GetByKey gets a value from a JSON object by key.
//
// If the value is not an object, or if the key is not found, it returns Null().
func (v Value) GetByKey(name string) Value {
	if v.valueType == ObjectType {
		return v.objectValue[name]
	}
	return Null()
}

// Keys returns the keys of a JSON object as a sorted slice.
//
// For values of any other type, it returns nil.
func (v Value) Keys() []string {
	if v.valueType != ObjectType {
		return nil
	}
	ret := make([]string, 0, len(v.objectValue))
	for k := range v.objectValue {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// AsArbitraryValue returns the value in its simplest Go representation, typed as interface{}.
//
// This is nil for a null value; bool for a boolean; float64 for any number; string for a
// string; or []interface{} or map[string]interface{} for arrays and objects, which are
// deep-copied so modifying them cannot affect the Value.
func (v Value) AsArbitraryValue() interface{} {
	switch v.valueType {
	case NullType:
		return nil
	case BoolType:
		return v.boolValue
	case NumberType:
		return v.numberValue
	case StringType:
		return v.stringValue
	case ArrayType:
		ret := make([]interface{}, len(v.arrayValue))
		for i, element := range v.arrayValue {
			ret[i] = element.AsArbitraryValue()
		}
		return ret
	case ObjectType:
		ret := make(map[string]interface{}, len(v.objectValue))
		for key, element := range v.objectValue {
			ret[key] = element.AsArbitraryValue()
		}
		return ret
	}
	return nil // COVERAGE: cannot happen
}

// Equal tests whether this Value is equal to another, in both type and value.
//
// For arrays and objects, this is a deep equality test. Numbers are compared by numeric value
// regardless of whether they were originally integers.
func (v Value) Equal(other Value) bool {
	if v.valueType != other.valueType {
		return false
	}
	switch v.valueType {
	case NullType:
		return true
	case BoolType:
		return v.boolValue == other.boolValue
	case NumberType:
		return v.numberValue == other.numberValue
	case StringType:
		return v.stringValue == other.stringValue
	case ArrayType:
		if len(v.arrayValue) != len(other.arrayValue) {
			return false
		}
		for i, element := range v.arrayValue {
			if !element.Equal(other.arrayValue[i]) {
				return false
			}
		}
		return true
	case ObjectType:
		if len(v.objectValue) != len(other.objectValue) {
			return false
		}
		for key, element := range v.objectValue {
			otherElement, found := other.objectValue[key]
			if !found || !element.Equal(otherElement) {
				return false
			}
		}
		return true
	}
	return false // COVERAGE: cannot happen
}

// String converts the value to a string representation.
//
// This is the same as JSONString, except that strings are returned without quotes. It is
// provided because it is more intuitive for use with fmt.Stringer.
func (v Value) String() string {
	if v.valueType == StringType {
		return v.stringValue
	}
	return v.JSONString()
}

// JSONString returns the JSON representation of the value.
func (v Value) JSONString() string {
	// The following is somewhat redundant with json.Marshal, but it avoids the overhead of
	// converting between byte arrays and strings for the simple types.
	switch v.valueType {
	case NullType:
		return "null"
	case BoolType:
		if v.boolValue {
			return "true"
		}
		return "false"
	case NumberType:
		if v.IsInt() {
			return strconv.Itoa(int(v.numberValue))
		}
		return strconv.FormatFloat(v.numberValue, 'f', -1, 64)
	}
	bytes, _ := json.Marshal(v) // errors should not be possible for the remaining types
	return string(bytes)
}

// MarshalJSON converts the Value to its JSON representation.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.valueType {
	case NullType:
		return []byte("null"), nil
	case BoolType:
		return json.Marshal(v.boolValue)
	case NumberType:
		if v.IsInt() {
			return []byte(strconv.Itoa(int(v.numberValue))), nil
		}
		return json.Marshal(v.numberValue)
	case StringType:
		return json.Marshal(v.stringValue)
	case ArrayType:
		if v.arrayValue == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arrayValue)
	case ObjectType:
		if v.objectValue == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.objectValue)
	}
	return nil, errors.New("unknown data type") // COVERAGE: cannot happen
}

// UnmarshalJSON parses a Value from JSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	firstCh := byte(0)
	for _, ch := range data {
		if ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r' {
			firstCh = ch
			break
		}
	}
	switch firstCh {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = Value{valueType: ArrayType, arrayValue: items}
		return nil
	case '{':
		var m map[string]Value
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*v = Value{valueType: ObjectType, objectValue: m}
		return nil
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Float64(n)
		return nil
	}
}
