package review

import (
	"context"
	"fmt"

	"github.com/g-sync/gsync/internal/bluesky"
	"github.com/g-sync/gsync/internal/records"
)

const (
	resolveHandleErrorFormat = "resolve handle %s: %w"
	followSubjectErrorFormat = "follow %s: %w"
)

// FollowSession exposes the authenticated target-network operations the
// executor needs.
type FollowSession interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	Follow(ctx context.Context, subjectDID string) error
}

// Executor establishes a follow relationship for a record with a resolved
// or resolvable target link.
type Executor struct {
	session FollowSession
}

// NewExecutor constructs an Executor around the supplied session.
func NewExecutor(session FollowSession) *Executor {
	return &Executor{session: session}
}

// Follow issues a follow action for the record's target link. It returns the
// possibly-updated record, whether the record changed, and any error.
//
// An unresolved handle is resolved first and the stored link rewritten to
// its canonical form; that rewrite is kept even when the subsequent follow
// call fails, so the returned record must be applied by the caller on error
// paths too. A resolution failure leaves the prior link untouched and the
// record unmarked.
func (executor *Executor) Follow(ctx context.Context, record records.AccountRecord) (records.AccountRecord, bool, error) {
	if !record.HasTargetLink() {
		return record, false, bluesky.ErrMissingLink
	}

	targetLink, parseErr := bluesky.ParseTargetLink(record.TargetProfileURL)
	if parseErr != nil {
		return record, false, parseErr
	}

	changed := false
	if !targetLink.Resolved() {
		resolvedDID, resolveErr := executor.session.ResolveHandle(ctx, targetLink.Identifier())
		if resolveErr != nil {
			return record, false, fmt.Errorf(resolveHandleErrorFormat, targetLink.Identifier(), resolveErr)
		}
		resolvedLink, linkErr := bluesky.ResolvedLink(resolvedDID)
		if linkErr != nil {
			return record, false, fmt.Errorf(resolveHandleErrorFormat, targetLink.Identifier(), linkErr)
		}
		targetLink = resolvedLink
		record.TargetProfileURL = targetLink.ProfileURL()
		changed = true
	}

	if followErr := executor.session.Follow(ctx, targetLink.Identifier()); followErr != nil {
		return record, changed, fmt.Errorf(followSubjectErrorFormat, targetLink.Identifier(), followErr)
	}

	record.Followed = true
	return record, true, nil
}
