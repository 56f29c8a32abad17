package offlinecache

import (
	"context"
	"errors"
	"fmt"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// volatileCaches are swept by Cleanup. The static cache only changes with the version.
var volatileCaches = []LogicalCache{CacheDynamic, CacheImage}

type CleanupReport struct {
	// Entries with a timestamp that were checked.
	Checked int
	// Entries deleted for exceeding the retention.
	Evicted int
	// Entries that could not be read or deleted.
	Failed int
}

// Cleanup deletes entries older than the retention from the volatile caches.
// Entries without a timestamp are kept. The sweep holds no lock: entries written
// concurrently are either seen with their new timestamp or not at all.
// An error is only returned if a cache could not be opened or listed.
func (e *Engine) Cleanup(ctx context.Context) (CleanupReport, error) {
	var (
		report CleanupReport
		errs   []error
	)
	now := e.now()

	for _, logical := range volatileCaches {
		name := e.names.Physical(logical)
		log := e.log.With().Str("cache", name).Logger()

		c, err := e.store.Open(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", name, err))
			continue
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", name, err))
			continue
		}

		for _, key := range keys {
			b, ok, err := c.Match(ctx, key)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Could not read entry for cleanup")
				report.Failed++
				continue
			}
			if !ok {
				continue
			}
			storedAt, ok, err := serializer.ReadStoredAt(b)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Could not read entry timestamp")
				report.Failed++
				continue
			}
			if !ok {
				continue
			}
			report.Checked++
			if now.Sub(storedAt) <= e.retention {
				continue
			}
			if _, err := c.Delete(ctx, key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Could not evict entry")
				report.Failed++
				continue
			}
			log.Trace().Str("key", key).Time("storedAt", storedAt).Msg("Evicted entry")
			report.Evicted++
		}
	}

	e.log.Info().
		Int("checked", report.Checked).
		Int("evicted", report.Evicted).
		Int("failed", report.Failed).
		Msg("Cache cleanup done")
	return report, errors.Join(errs...)
}
