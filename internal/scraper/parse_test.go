package scraper_test

import (
	"errors"
	"testing"

	"github.com/g-sync/gsync/internal/scraper"
)

const followingPageHTML = `<!doctype html>
<html><body>
<div class="d-table">
  <a data-hovercard-type="user" href="/octocat">
    <img class="avatar avatar-user" src="https://avatars.test/u/1">
  </a>
  <a data-hovercard-type="user" href="/octocat">
    <span class="f4">The Octocat</span>
    <span class="Link--secondary">octocat</span>
  </a>
</div>
<div class="d-table">
  <a data-hovercard-type="user" href="/hubber">
    <img class="avatar avatar-user" src="https://avatars.test/u/2">
  </a>
  <a data-hovercard-type="user" href="/hubber">
    <span class="Link--secondary">hubber</span>
  </a>
</div>
<div class="d-table">
  <a data-hovercard-type="user" href="/octocat">
    <img class="avatar avatar-user" src="https://avatars.test/u/1">
  </a>
</div>
<div class="d-table">
  <span>cell without a profile link</span>
</div>
</body></html>`

const emptyPageHTML = `<!doctype html><html><body><p>nothing here</p></body></html>`

func TestParseFollowingExtractsRecords(t *testing.T) {
	accountRecords, err := scraper.ParseFollowing(followingPageHTML, scraper.DefaultSelectors())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accountRecords) != 2 {
		t.Fatalf("expected 2 records after dedupe, got %d", len(accountRecords))
	}

	first := accountRecords[0]
	if first.Login != "hubber" {
		t.Fatalf("expected hubber first by login order, got %s", first.Login)
	}
	if first.Avatar != "https://avatars.test/u/2" {
		t.Fatalf("unexpected avatar: %s", first.Avatar)
	}

	second := accountRecords[1]
	if second.Login != "octocat" {
		t.Fatalf("expected octocat, got %s", second.Login)
	}
	if second.DisplayName != "The Octocat" {
		t.Fatalf("expected display name, got %q", second.DisplayName)
	}
}

func TestParseFollowingKeepsFirstOccurrenceOnDuplicateLogin(t *testing.T) {
	accountRecords, err := scraper.ParseFollowing(followingPageHTML, scraper.DefaultSelectors())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, accountRecord := range accountRecords {
		if accountRecord.Login == "octocat" && accountRecord.DisplayName != "The Octocat" {
			t.Fatalf("expected first octocat cell kept, got %+v", accountRecord)
		}
	}
}

func TestParseFollowingNoCells(t *testing.T) {
	_, err := scraper.ParseFollowing(emptyPageHTML, scraper.DefaultSelectors())
	if !errors.Is(err, scraper.ErrNoCells) {
		t.Fatalf("expected ErrNoCells, got %v", err)
	}
}
