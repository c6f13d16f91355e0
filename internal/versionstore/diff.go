package versionstore

import (
	"context"
	"fmt"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/pkg/diff"
)

// VersionDiff 两个版本之间的差异
type VersionDiff struct {
	From *domain.VersionRecord
	To   *domain.VersionRecord
	diff.Result
}

// Diff compares two versions of a group by their indented payloads; an empty toID means the current version
// Diff 按缩进后的内容比较分组的两个版本；toID 为空表示当前版本
func (s *Store) Diff(ctx context.Context, d domain.ContentDomain, targetID, fromID, toID string) (*VersionDiff, error) {
	history, err := s.GetHistory(ctx, d, targetID)
	if err != nil {
		return nil, err
	}

	var from, to *domain.VersionRecord
	for _, rec := range history {
		if rec.IsPending() {
			continue
		}
		if rec.ID == fromID {
			from = rec
		}
		if (toID == "" && rec.IsCurrent) || (toID != "" && rec.ID == toID) {
			to = rec
		}
	}
	if from == nil {
		return nil, fmt.Errorf("%w: version %s", domain.ErrNotFound, fromID)
	}
	if to == nil {
		return nil, fmt.Errorf("%w: version %s", domain.ErrNotFound, toID)
	}

	return &VersionDiff{
		From:   from,
		To:     to,
		Result: diff.Compute(from.Payload.Pretty(), to.Payload.Pretty()),
	}, nil
}
