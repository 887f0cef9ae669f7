// internal/catalog/catalog.go
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/common/metrics"
	matchengine "listing-alerts/internal/engine/match-engine"
	"listing-alerts/internal/models"

	"github.com/robfig/cron/v3"
)

const Component = "catalog"

// Loader reads the current set of active saved searches.
type Loader interface {
	LoadActive(ctx context.Context) ([]models.SavedSearch, error)
}

// Catalog holds a compiled snapshot of the active saved searches. The
// snapshot is replaced wholesale on refresh, so readers never see a partial
// update and never need to copy it.
type Catalog struct {
	config *Config
	loader Loader
	logger logger.Logger
	cron   *cron.Cron
	now    func() time.Time

	refreshMu sync.Mutex

	mu         sync.RWMutex
	candidates []matchengine.Candidate
	loadedAt   time.Time
	loaded     bool
}

func New(config *Config, loader Loader, log logger.Logger) *Catalog {
	return &Catalog{
		config: config,
		loader: loader,
		logger: log.WithFields(map[string]interface{}{"component": Component}),
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start loads the catalog once and schedules later refreshes. A failed
// initial load is returned; failed scheduled refreshes keep the previous
// snapshot.
func (c *Catalog) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	if c.config.RefreshSchedule == "" {
		return nil
	}

	_, err := c.cron.AddFunc(c.config.RefreshSchedule, func() {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("scheduled catalog refresh failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
	if err != nil {
		return fmt.Errorf("invalid catalog refresh schedule %q: %w", c.config.RefreshSchedule, err)
	}
	c.cron.Start()
	c.logger.Info("catalog refresh scheduled", map[string]interface{}{
		"schedule": c.config.RefreshSchedule,
	})
	return nil
}

// Stop halts scheduled refreshes and waits for a running one to finish.
func (c *Catalog) Stop() {
	<-c.cron.Stop().Done()
}

// Refresh reloads and recompiles every active saved search.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, c.config.LoadTimeout)
	defer cancel()

	start := c.now()
	searches, err := c.loader.LoadActive(loadCtx)
	if err != nil {
		if apperrors.AsStandard(err).Code != apperrors.ErrCodeSavedSearchLoadFailed {
			err = apperrors.NewSavedSearchLoadFailedError(err)
		}
		return err
	}

	candidates := matchengine.CompileAll(searches)
	invalid := 0
	for _, cand := range candidates {
		if cand.ParseErr == nil {
			continue
		}
		invalid++
		c.logger.Warn("saved search has unevaluable filters", map[string]interface{}{
			"savedSearchId": cand.Search.ID,
			"userId":        cand.Search.UserID,
			"error":         cand.ParseErr.Error(),
		})
	}

	c.mu.Lock()
	c.candidates = candidates
	c.loadedAt = c.now()
	c.loaded = true
	c.mu.Unlock()

	metrics.CatalogSize.Set(float64(len(candidates)))
	c.logger.Info("catalog refreshed", map[string]interface{}{
		"searches":   len(candidates),
		"invalid":    invalid,
		"durationMs": c.now().Sub(start).Milliseconds(),
	})
	return nil
}

// ActiveSearches returns the current snapshot, loading it on first use.
// The returned slice must not be modified.
func (c *Catalog) ActiveSearches(ctx context.Context) ([]matchengine.Candidate, error) {
	c.mu.RLock()
	loaded, candidates := c.loaded, c.candidates
	c.mu.RUnlock()
	if loaded {
		return candidates, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.candidates, nil
}

// LoadedAt reports when the current snapshot was built.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Static serves a fixed set of saved searches; useful for tests and replay.
type Static []models.SavedSearch

func (s Static) LoadActive(context.Context) ([]models.SavedSearch, error) {
	return s, nil
}
