package review_test

import (
	"context"
	"testing"

	"github.com/g-sync/gsync/internal/bluesky"
	"github.com/g-sync/gsync/internal/records"
	"github.com/g-sync/gsync/internal/review"
)

type actorSearcherStub struct {
	capturedQueries []string
	candidates      []bluesky.CandidateProfile
	searchErr       error
}

func (stub *actorSearcherStub) SearchActors(_ context.Context, query string) ([]bluesky.CandidateProfile, error) {
	stub.capturedQueries = append(stub.capturedQueries, query)
	return stub.candidates, stub.searchErr
}

func TestResolverSearchPrefersDisplayNamePhrase(t *testing.T) {
	testCases := []struct {
		name          string
		record        records.AccountRecord
		expectedQuery string
	}{
		{
			name:          "display name becomes quoted phrase",
			record:        records.AccountRecord{Login: "adaml", DisplayName: "Ada Lovelace"},
			expectedQuery: `"Ada Lovelace"`,
		},
		{
			name:          "blank display name falls back to login",
			record:        records.AccountRecord{Login: "adaml", DisplayName: "   "},
			expectedQuery: "adaml",
		},
		{
			name:          "missing display name falls back to login",
			record:        records.AccountRecord{Login: "adaml"},
			expectedQuery: "adaml",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			stub := &actorSearcherStub{}
			resolver := review.NewResolver(stub)

			if _, err := resolver.Search(context.Background(), testCase.record); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(stub.capturedQueries) != 1 || stub.capturedQueries[0] != testCase.expectedQuery {
				t.Fatalf("expected query %q, got %v", testCase.expectedQuery, stub.capturedQueries)
			}
		})
	}
}
