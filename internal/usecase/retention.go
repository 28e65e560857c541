package usecase

import (
	"context"
	"time"

	"chat-relay/internal/domain"
)

// RotateResult lists the daily buckets a rotation touched.
type RotateResult struct {
	Deleted  []string
	Retained []string
	Skipped  []string
	Failed   []string
}

// Rotate deletes every daily bucket of userID dated strictly before the
// retention horizon (the UTC day before now). Yesterday and today survive.
// Listing failures make the rotation a no-op; a failed delete is logged and
// the sweep moves on to the next bucket.
func (s *ConversationService) Rotate(ctx context.Context, userID string, now time.Time) RotateResult {
	var res RotateResult
	if userID == "" {
		return res
	}

	collection := domain.UserCollection(userID)
	horizon := domain.RetentionHorizon(now)

	keys, err := s.store.ListKeys(ctx, collection)
	if err != nil {
		s.recorder.ObserveStoreError("list")
		s.logger.Warn("rotation listing failed", "collection", collection, "err", err)
		return res
	}

	for _, key := range keys {
		day, err := domain.ParseDateBucket(key)
		if err != nil {
			res.Skipped = append(res.Skipped, key)
			s.logger.Warn("rotation skipped non-date bucket", "collection", collection, "key", key)
			continue
		}
		if !day.Before(horizon) {
			res.Retained = append(res.Retained, key)
			continue
		}
		if err := s.store.Delete(ctx, collection, key); err != nil {
			res.Failed = append(res.Failed, key)
			s.recorder.ObserveStoreError("delete")
			s.logger.Error("rotation delete failed", "collection", collection, "key", key, "err", err)
			continue
		}
		res.Deleted = append(res.Deleted, key)
	}

	s.recorder.ObserveRotated(len(res.Deleted))
	if len(res.Deleted) > 0 {
		s.logger.Info("rotated stale history", "collection", collection,
			"horizon", domain.DateBucket(horizon), "deleted", len(res.Deleted))
	}
	return res
}
