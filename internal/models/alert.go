// internal/models/alert.go
package models

import (
	"sort"
	"strings"
	"time"
)

// AlertReason explains why a property is interesting to a saved search.
type AlertReason string

const (
	ReasonNewListing       AlertReason = "NEW_LISTING"
	ReasonPriceDrop        AlertReason = "PRICE_DROP"
	ReasonPriceIncrease    AlertReason = "PRICE_INCREASE"
	ReasonStatusChanged    AlertReason = "STATUS_CHANGED"
	ReasonAttributeUpdated AlertReason = "ATTRIBUTE_UPDATED"
)

// ReasonSet is a sorted, duplicate free list of reasons.
type ReasonSet []AlertReason

// NewReasonSet normalizes reasons into a ReasonSet.
func NewReasonSet(reasons ...AlertReason) ReasonSet {
	if len(reasons) == 0 {
		return nil
	}
	seen := make(map[AlertReason]struct{}, len(reasons))
	out := make(ReasonSet, 0, len(reasons))
	for _, r := range reasons {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s ReasonSet) Has(r AlertReason) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}
	return false
}

// Union returns a new set holding the reasons of both sets.
func (s ReasonSet) Union(other ReasonSet) ReasonSet {
	all := make([]AlertReason, 0, len(s)+len(other))
	all = append(all, s...)
	all = append(all, other...)
	return NewReasonSet(all...)
}

func (s ReasonSet) Empty() bool { return len(s) == 0 }

func (s ReasonSet) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// Match links one saved search to one property for the reasons given.
type Match struct {
	SavedSearchID string    `json:"savedSearchId"`
	UserID        string    `json:"userId"`
	PropertyID    string    `json:"propertyId"`
	Reasons       ReasonSet `json:"reasons"`
	Score         int       `json:"score"`
	MatchedAt     time.Time `json:"matchedAt"`
}

// SkippedSearch records a saved search that could not be evaluated.
type SkippedSearch struct {
	SavedSearchID string `json:"savedSearchId"`
	UserID        string `json:"userId"`
	Err           error  `json:"-"`
}

// Channel is a notification delivery route.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
)

// NotificationJob is one alert handed to the delivery side.
type NotificationJob struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	PropertyID     string    `json:"propertyId"`
	SavedSearchIDs []string  `json:"savedSearchIds"`
	Channel        Channel   `json:"channel"`
	Reasons        ReasonSet `json:"reasons"`
	CreatedAt      time.Time `json:"createdAt"`
}
