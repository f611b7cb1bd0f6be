package store

import (
	"time"

	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// analysisCache memoizes vision model output by image hash. Purely an
	// optimization, never required for correctness.
	analysisCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		analysisCache: cache.New(cache.Config{
			Capacity:        500,
			DefaultTTL:      15 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// AnalysisCache returns the shared image-analysis cache.
func (s *Store) AnalysisCache() *cache.Cache {
	return s.analysisCache
}

func (s *Store) Close() error {
	s.analysisCache.Close()
	return s.driver.Close()
}
