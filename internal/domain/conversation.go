package domain

import (
	"strings"
	"time"
)

const (
	// historyCollection is the root collection every history document lives under.
	historyCollection = "chat"
	// DateBucketLayout formats a UTC calendar day as YYYYMMDD.
	DateBucketLayout = "20060102"
)

// Scope selects how a user's history is partitioned in the store.
type Scope string

const (
	// ScopeGlobal keeps one history per user.
	ScopeGlobal Scope = "global"
	// ScopeDaily keeps one history per user and UTC calendar day.
	ScopeDaily Scope = "daily"
)

// ParseScope maps a configuration value to a Scope.
func ParseScope(s string) (Scope, bool) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeGlobal:
		return ScopeGlobal, true
	case ScopeDaily:
		return ScopeDaily, true
	}
	return "", false
}

// HistoryKey addresses one history document in the store.
type HistoryKey struct {
	Collection string
	Key        string
}

func (k HistoryKey) String() string {
	return k.Collection + "/" + k.Key
}

// KeyFor returns the key holding userID's active history at now.
func KeyFor(scope Scope, userID string, now time.Time) HistoryKey {
	if scope == ScopeDaily {
		return HistoryKey{Collection: UserCollection(userID), Key: DateBucket(now)}
	}
	return HistoryKey{Collection: historyCollection, Key: userID}
}

// UserCollection is the namespace holding a user's daily buckets.
func UserCollection(userID string) string {
	return historyCollection + "/" + userID
}

// DateBucket formats the UTC calendar day of t.
func DateBucket(t time.Time) string {
	return t.UTC().Format(DateBucketLayout)
}

// ParseDateBucket parses a YYYYMMDD bucket name.
func ParseDateBucket(s string) (time.Time, error) {
	return time.ParseInLocation(DateBucketLayout, s, time.UTC)
}

// RetentionHorizon is the UTC day before now. Daily buckets strictly older
// than the horizon are stale.
func RetentionHorizon(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
