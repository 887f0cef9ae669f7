// internal/engine/event-intake/lifecycle.go
package eventintake

import (
	"time"

	"listing-alerts/internal/models"

	"github.com/karlseguin/ccache/v3"
)

// lifecycleTTL only bounds memory; the size limit does the real work.
const lifecycleTTL = 30 * 24 * time.Hour

// lifecycle remembers the last accepted status of each property so that
// events arriving after a sale or withdrawal can be refused.
type lifecycle struct {
	statuses *ccache.Cache[models.PropertyStatus]
}

func newLifecycle(limit int64) *lifecycle {
	return &lifecycle{
		statuses: ccache.New(ccache.Configure[models.PropertyStatus]().MaxSize(limit)),
	}
}

// accepts reports whether an event may be processed. An event without a
// previous snapshot is a fresh listing, which is how a relist arrives.
func (l *lifecycle) accepts(event *models.PropertyChangeEvent) bool {
	if event.PreviousSnapshot == nil {
		return true
	}
	if event.PreviousSnapshot.Status.IsTerminal() {
		return false
	}
	if item := l.statuses.Get(event.PropertyID); item != nil {
		return !item.Value().IsTerminal()
	}
	return true
}

func (l *lifecycle) observe(snap *models.PropertySnapshot) {
	l.statuses.Set(snap.ID, snap.Status, lifecycleTTL)
}

func (l *lifecycle) status(propertyID string) (models.PropertyStatus, bool) {
	item := l.statuses.Get(propertyID)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

func (l *lifecycle) stop() {
	l.statuses.Stop()
}
