package ldclient

// Segment describes a group of users that can be referenced by feature flag rules with a
// segmentMatch clause.
type Segment struct {
	// Key is the unique key of the user segment.
	Key string `json:"key" bson:"key"`
	// Included is a list of user keys that are always matched by this segment.
	Included []string `json:"included" bson:"included"`
	// Excluded is a list of user keys that are never matched by this segment, unless the
	// key is also in Included.
	Excluded []string `json:"excluded" bson:"excluded"`
	// Salt is a randomized value assigned to this segment, used in percentage rollouts.
	Salt string `json:"salt" bson:"salt"`
	// Rules is a list of rules that may match a user.
	Rules []SegmentRule `json:"rules" bson:"rules"`
	// Version is an integer that is incremented by LaunchDarkly every time the configuration
	// of the segment is changed.
	Version int `json:"version" bson:"version"`
	// Deleted is true if this is a placeholder (tombstone) for a deleted segment.
	Deleted bool `json:"deleted" bson:"deleted"`
}

// SegmentRule describes a set of clauses that users must match to be included in a segment.
type SegmentRule struct {
	// Id is a randomized identifier assigned to each rule when it is created.
	Id string `json:"id,omitempty" bson:"id,omitempty"`
	// Clauses is a list of test conditions that make up the rule. These are ANDed: every
	// Clause must match in order for the SegmentRule to match.
	Clauses []Clause `json:"clauses" bson:"clauses"`
	// Weight, if defined, specifies a percentage rollout in which only a subset of users
	// matching this rule are included in the segment. This is specified as an integer from
	// 0 (0%) to 100000 (100%).
	Weight *int `json:"weight,omitempty" bson:"weight,omitempty"`
	// BucketBy specifies which user attribute should be used to distinguish between users
	// in a rollout. The default (when nil) is the user's key.
	BucketBy *string `json:"bucketBy,omitempty" bson:"bucketBy,omitempty"`
}

// GetKey returns the string key for the segment.
func (s *Segment) GetKey() string {
	return s.Key
}

// GetVersion returns the version of a segment.
func (s *Segment) GetVersion() int {
	return s.Version
}

// IsDeleted returns whether or not a segment has been deleted.
func (s *Segment) IsDeleted() bool {
	return s.Deleted
}

// Clone returns a copy of a segment.
func (s *Segment) Clone() VersionedData {
	s1 := *s
	return &s1
}

// ContainsUser returns whether a user belongs to the segment. Inclusions and exclusions
// by key take precedence over the segment's rules, in that order.
func (s *Segment) ContainsUser(user User) bool {
	userKey := user.GetKey()
	if user.Key == nil {
		return false
	}

	for _, key := range s.Included {
		if userKey == key {
			return true
		}
	}

	for _, key := range s.Excluded {
		if userKey == key {
			return false
		}
	}

	for _, rule := range s.Rules {
		if rule.matchesUser(user, s.Key, s.Salt) {
			return true
		}
	}

	return false
}

func (r SegmentRule) matchesUser(user User, key, salt string) bool {
	for _, clause := range r.Clauses {
		if !clause.matchesUserNoSegments(user) {
			return false
		}
	}

	// If the Weight is absent, this rule matches
	if r.Weight == nil {
		return true
	}

	// All of the clauses are met. Check to see if the user buckets in
	bucketBy := "key"
	if r.BucketBy != nil {
		bucketBy = *r.BucketBy
	}

	// Check whether the user buckets into the segment
	bucket := bucketUser(user, key, bucketBy, salt)
	weight := float32(*r.Weight) / 100000.0

	return bucket < weight
}
