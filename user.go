package ldclient

import (
	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

// A User contains specific attributes of a user browsing your site. The only mandatory
// property is the Key, which must uniquely identify each user. For authenticated users,
// this may be a username or e-mail address. For anonymous users, this could be an IP
// address or session ID.
//
// Besides the mandatory Key, User supports two kinds of optional attributes: interpreted
// attributes (e.g. IP and Country) and custom attributes. Interpreted attributes are
// attributes that are meaningful to LaunchDarkly in some way. Custom attributes are not
// parsed by LaunchDarkly but can be used in custom rules. All of them can be used as the
// basis for targeting and rollouts.
type User struct {
	// Key is the unique key of the user.
	Key *string `json:"key,omitempty" bson:"key,omitempty"`
	// Secondary is the secondary key of the user.
	//
	// This affects feature flag targeting
	// (https://docs.launchdarkly.com/docs/targeting-users#section-targeting-rules-based-on-user-attributes)
	// as follows: if you have chosen to bucket users by a specific attribute, the secondary
	// key (if set) is used to further distinguish between users who are otherwise identical
	// according to that attribute.
	Secondary *string `json:"secondary,omitempty" bson:"secondary,omitempty"`
	// Ip is the IP address of the user.
	Ip *string `json:"ip,omitempty" bson:"ip,omitempty"`
	// Country is the country of the user.
	Country *string `json:"country,omitempty" bson:"country,omitempty"`
	// Email is the email address of the user.
	Email *string `json:"email,omitempty" bson:"email,omitempty"`
	// FirstName is the first name of the user.
	FirstName *string `json:"firstName,omitempty" bson:"firstName,omitempty"`
	// LastName is the last name of the user.
	LastName *string `json:"lastName,omitempty" bson:"lastName,omitempty"`
	// Avatar is the URL of the user's avatar image.
	Avatar *string `json:"avatar,omitempty" bson:"avatar,omitempty"`
	// Name is the full name of the user.
	Name *string `json:"name,omitempty" bson:"name,omitempty"`
	// Anonymous indicates whether the user is anonymous.
	//
	// If this is true, no data about the user will appear on your LaunchDarkly dashboard.
	Anonymous *bool `json:"anonymous,omitempty" bson:"anonymous,omitempty"`
	// Custom is the user's map of custom attributes.
	Custom *map[string]ldvalue.Value `json:"custom,omitempty" bson:"custom,omitempty"`
	// PrivateAttributeNames is a list of attribute names (either built-in or custom) which
	// should be marked as private and not sent to LaunchDarkly in analytics events. You can
	// also set private attribute names on a per-SDK basis with Config.PrivateAttributeNames.
	PrivateAttributeNames []string `json:"privateAttributeNames,omitempty" bson:"privateAttributeNames,omitempty"`
}

// BuiltinAttributes is a list of the user attribute names that are built into the User
// type, as opposed to custom attributes. The user key is deliberately not in this list
// because it cannot be made private.
var BuiltinAttributes = []string{
	"avatar",
	"country",
	"email",
	"firstName",
	"ip",
	"lastName",
	"name",
	"secondary",
}

// NewUser creates a new user identified by the given key.
func NewUser(key string) User {
	return User{Key: &key}
}

// NewAnonymousUser creates a new anonymous user identified by the given key.
func NewAnonymousUser(key string) User {
	anonymous := true
	return User{Key: &key, Anonymous: &anonymous}
}

// GetKey returns the user's key, or an empty string if no key was set.
func (u User) GetKey() string {
	if u.Key != nil {
		return *u.Key
	}
	return ""
}

// valueOf resolves an attribute name to its value for this user. Built-in attributes are
// matched by name first; anything else is looked up in the custom attribute map. A missing
// attribute resolves to a null value.
func (u User) valueOf(attr string) ldvalue.Value {
	switch attr {
	case "key":
		return optStringValue(u.Key)
	case "secondary":
		return optStringValue(u.Secondary)
	case "ip":
		return optStringValue(u.Ip)
	case "country":
		return optStringValue(u.Country)
	case "email":
		return optStringValue(u.Email)
	case "firstName":
		return optStringValue(u.FirstName)
	case "lastName":
		return optStringValue(u.LastName)
	case "avatar":
		return optStringValue(u.Avatar)
	case "name":
		return optStringValue(u.Name)
	case "anonymous":
		if u.Anonymous != nil {
			return ldvalue.Bool(*u.Anonymous)
		}
		return ldvalue.Null()
	}

	if u.Custom == nil {
		return ldvalue.Null()
	}
	return (*u.Custom)[attr]
}

func optStringValue(s *string) ldvalue.Value {
	if s == nil {
		return ldvalue.Null()
	}
	return ldvalue.String(*s)
}
