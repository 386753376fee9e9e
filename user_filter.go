package ldclient

import (
	"golang.org/x/exp/slices"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldvalue"
)

type userFilter struct {
	allAttributesPrivate    bool
	globalPrivateAttributes []string
}

func newUserFilter(config Config) userFilter {
	return userFilter{
		allAttributesPrivate:    config.AllAttributesPrivate,
		globalPrivateAttributes: config.PrivateAttributeNames,
	}
}

// Returns a version of the user data that is suitable for JSON serialization in event data.
// If neither the configuration nor the user specifies any private attributes, then the
// original user struct is reused; otherwise, it is copied with the private attribute values
// removed and their names listed in privateAttrs.
func (uf userFilter) scrubUser(user User) *scrubbedUser {
	if len(user.PrivateAttributeNames) == 0 && len(uf.globalPrivateAttributes) == 0 && !uf.allAttributesPrivate {
		return &scrubbedUser{User: user}
	}

	isPrivate := map[string]bool{}
	for _, n := range uf.globalPrivateAttributes {
		isPrivate[n] = true
	}
	for _, n := range user.PrivateAttributeNames {
		isPrivate[n] = true
	}

	scrubbed := scrubbedUser{User: user}
	// The names of the user's own private attributes are not sent to the service
	scrubbed.User.PrivateAttributeNames = nil

	privateAttrs := []string{}

	if user.Custom != nil {
		custom := map[string]ldvalue.Value{}
		for k, v := range *user.Custom {
			if uf.allAttributesPrivate || isPrivate[k] {
				privateAttrs = append(privateAttrs, k)
			} else {
				custom[k] = v
			}
		}
		scrubbed.User.Custom = &custom
	}

	for _, attr := range BuiltinAttributes {
		if uf.allAttributesPrivate || isPrivate[attr] {
			if scrubbed.User.clearAttribute(attr) {
				privateAttrs = append(privateAttrs, attr)
			}
		}
	}

	if len(privateAttrs) > 0 {
		// Sorted so the output is deterministic
		slices.Sort(privateAttrs)
		scrubbed.PrivateAttributes = privateAttrs
	}
	return &scrubbed
}

type scrubbedUser struct {
	User
	PrivateAttributes []string `json:"privateAttrs,omitempty"`
}

// Removes the value of a built-in optional attribute, returning true if it had a value.
// The key attribute can never be removed.
func (u *User) clearAttribute(attribute string) bool {
	var field **string
	switch attribute {
	case "avatar":
		field = &u.Avatar
	case "country":
		field = &u.Country
	case "email":
		field = &u.Email
	case "firstName":
		field = &u.FirstName
	case "ip":
		field = &u.Ip
	case "lastName":
		field = &u.LastName
	case "name":
		field = &u.Name
	case "secondary":
		field = &u.Secondary
	default:
		return false
	}
	if *field == nil {
		return false
	}
	*field = nil
	return true
}
