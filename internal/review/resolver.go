package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/g-sync/gsync/internal/bluesky"
	"github.com/g-sync/gsync/internal/records"
)

const quotedQueryFormat = "%q"

// ActorSearcher exposes the target network's actor search capability.
type ActorSearcher interface {
	SearchActors(ctx context.Context, query string) ([]bluesky.CandidateProfile, error)
}

// Resolver finds candidate target-network profiles for a local record. The
// result set is returned as supplied by the search; ranking and selection
// stay with the human reviewer.
type Resolver struct {
	searcher ActorSearcher
}

// NewResolver constructs a Resolver around the supplied searcher.
func NewResolver(searcher ActorSearcher) *Resolver {
	return &Resolver{searcher: searcher}
}

// Search queries candidate profiles for the record. An empty result set is
// not an error; only transport or authentication failures are.
func (resolver *Resolver) Search(ctx context.Context, record records.AccountRecord) ([]bluesky.CandidateProfile, error) {
	return resolver.searcher.SearchActors(ctx, searchQuery(record))
}

// searchQuery prefers an exact-phrase display name match over the bare
// login handle. Display names travel across networks more often than
// handles do.
func searchQuery(record records.AccountRecord) string {
	if strings.TrimSpace(record.DisplayName) != "" {
		return fmt.Sprintf(quotedQueryFormat, record.DisplayName)
	}
	return record.Login
}
