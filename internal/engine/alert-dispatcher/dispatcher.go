// internal/engine/alert-dispatcher/dispatcher.go
package alertdispatcher

import (
	"context"
	"slices"
	"sort"
	"time"

	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/common/metrics"
	"listing-alerts/internal/models"

	"github.com/google/uuid"
)

const Component = "alert-dispatcher"

type Dispatcher struct {
	config      *Config
	prefs       PreferenceStore
	suppression SuppressionStore
	logger      logger.Logger
	now         func() time.Time
	newID       func() string
}

func NewDispatcher(config *Config, prefs PreferenceStore, suppression SuppressionStore, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		config:      config,
		prefs:       prefs,
		suppression: suppression,
		logger:      log.WithFields(map[string]interface{}{"component": Component}),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// Dispatch turns a batch of matches into notification jobs.
//
// Matches are merged per (user, property), gated by the user's preferences,
// deduplicated through the suppression store and fanned out per enabled
// channel. If the batch fails or ctx is cancelled part way, every pair
// reserved by this call is released again before the error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, matches []models.Match) (jobs []models.NotificationJob, err error) {
	start := d.now()
	defer func() {
		metrics.EventDuration.WithLabelValues("dispatch").Observe(time.Since(start).Seconds())
	}()

	var reserved []pairKey
	defer func() {
		if err != nil {
			d.release(ctx, reserved)
			jobs = nil
		}
	}()

	prefs := make(map[string]models.NotificationPref)
	createdAt := d.now().UTC()

	for _, g := range groupMatches(matches) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pref, ok := prefs[g.key.userID]
		if !ok {
			pref, err = d.prefs.GetOrCreate(ctx, g.key.userID)
			if err != nil {
				return nil, apperrors.NewPreferenceLookupFailedError(g.key.userID, err)
			}
			prefs[g.key.userID] = pref
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		reasons, cause := d.alertable(g.reasons, pref)
		if reasons.Empty() {
			metrics.AlertsSuppressed.WithLabelValues(cause).Inc()
			d.logger.Debug("alert gated", map[string]interface{}{
				"userId":     g.key.userID,
				"propertyId": g.key.propertyID,
				"reasons":    g.reasons.String(),
				"cause":      cause,
			})
			continue
		}

		channels := channelsFor(pref)
		if len(channels) == 0 {
			metrics.AlertsSuppressed.WithLabelValues(causeNoChannel).Inc()
			continue
		}

		if d.config.SuppressionWindow > 0 {
			ok, err := d.suppression.Reserve(ctx, g.key.userID, g.key.propertyID, d.config.SuppressionWindow)
			if err != nil {
				return nil, apperrors.NewSuppressionStoreFailedError(err)
			}
			if !ok {
				metrics.AlertsSuppressed.WithLabelValues(causeWindow).Inc()
				d.logger.Debug("alert suppressed inside window", map[string]interface{}{
					"userId":     g.key.userID,
					"propertyId": g.key.propertyID,
				})
				continue
			}
			reserved = append(reserved, g.key)
		}

		for _, ch := range channels {
			jobs = append(jobs, models.NotificationJob{
				ID:             d.newID(),
				UserID:         g.key.userID,
				PropertyID:     g.key.propertyID,
				SavedSearchIDs: g.searchIDs,
				Channel:        ch,
				Reasons:        reasons,
				CreatedAt:      createdAt,
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, job := range jobs {
		metrics.JobsEmitted.WithLabelValues(string(job.Channel)).Inc()
	}
	d.logger.Info("dispatch complete", map[string]interface{}{
		"matches": len(matches),
		"jobs":    len(jobs),
	})
	return jobs, nil
}

// Rollback releases the suppression entries behind jobs that could not be
// handed to the sink, so that a redelivered event can alert again.
func (d *Dispatcher) Rollback(ctx context.Context, jobs []models.NotificationJob) {
	if d.config.SuppressionWindow <= 0 {
		return
	}
	seen := make(map[pairKey]struct{})
	var keys []pairKey
	for _, j := range jobs {
		k := pairKey{userID: j.UserID, propertyID: j.PropertyID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	d.release(ctx, keys)
}

func (d *Dispatcher) release(ctx context.Context, keys []pairKey) {
	if len(keys) == 0 {
		return
	}
	// Release must run even when ctx is what failed the batch.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.ReleaseTimeout)
	defer cancel()

	for _, k := range keys {
		if err := d.suppression.Release(releaseCtx, k.userID, k.propertyID); err != nil {
			d.logger.Error("failed to release suppression entry", map[string]interface{}{
				"userId":     k.userID,
				"propertyId": k.propertyID,
				"error":      err.Error(),
			})
		}
	}
}

// alertable filters reasons down to those the user wants to hear about.
// The second result names why nothing survived.
func (d *Dispatcher) alertable(reasons models.ReasonSet, pref models.NotificationPref) (models.ReasonSet, string) {
	if !pref.SavedSearchAlerts {
		return nil, causePreference
	}

	var out []models.AlertReason
	gated := false
	for _, r := range reasons {
		switch r {
		case models.ReasonNewListing:
			if pref.NewListingAlerts {
				out = append(out, r)
			} else {
				gated = true
			}
		case models.ReasonPriceDrop:
			if pref.PriceDropAlerts {
				out = append(out, r)
			} else {
				gated = true
			}
		case models.ReasonPriceIncrease:
			if d.config.AlertOnPriceIncrease {
				out = append(out, r)
			}
		case models.ReasonStatusChanged:
			out = append(out, r)
		}
	}
	if len(out) == 0 && gated {
		return nil, causePreference
	}
	return models.NewReasonSet(out...), causeNotAlertable
}

func channelsFor(pref models.NotificationPref) []models.Channel {
	var out []models.Channel
	if pref.EmailNotifications {
		out = append(out, models.ChannelEmail)
	}
	if pref.PushNotifications {
		out = append(out, models.ChannelPush)
	}
	return out
}

// groupMatches merges matches per (user, property), ordered by user then
// property so that job order does not depend on match order.
func groupMatches(matches []models.Match) []*group {
	byKey := make(map[pairKey]*group)
	var groups []*group
	for _, m := range matches {
		k := pairKey{userID: m.UserID, propertyID: m.PropertyID}
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.reasons = g.reasons.Union(m.Reasons)
		g.searchIDs = append(g.searchIDs, m.SavedSearchID)
	}

	for _, g := range groups {
		sort.Strings(g.searchIDs)
		g.searchIDs = slices.Compact(g.searchIDs)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].key.userID != groups[j].key.userID {
			return groups[i].key.userID < groups[j].key.userID
		}
		return groups[i].key.propertyID < groups[j].key.propertyID
	})
	return groups
}
