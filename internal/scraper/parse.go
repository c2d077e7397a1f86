package scraper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/g-sync/gsync/internal/records"
)

const (
	attributeHref            = "href"
	attributeSrc             = "src"
	profilePathPrefix        = "/"
	errMessageNoCells        = "no profile cells matched the configured selectors"
	parseDocumentErrorFormat = "parse following page html: %w"
)

// ErrNoCells indicates a scrape produced markup with no recognizable
// profile cells, usually a selector drift after an upstream redesign.
var ErrNoCells = errors.New(errMessageNoCells)

// Selectors locates profile cells and their fields inside a captured
// following page. The defaults track the current upstream markup.
type Selectors struct {
	Cell        string
	ProfileLink string
	Avatar      string
	DisplayName string
}

// DefaultSelectors returns the selector preset for the current markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Cell:        `div.d-table`,
		ProfileLink: `a[data-hovercard-type="user"]`,
		Avatar:      `img.avatar-user`,
		DisplayName: `span.f4`,
	}
}

// ParseFollowing extracts account records from a captured following page.
// Cells missing a profile link are skipped and repeated logins keep their
// first occurrence.
func ParseFollowing(pageHTML string, selectors Selectors) ([]records.AccountRecord, error) {
	document, parseErr := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if parseErr != nil {
		return nil, fmt.Errorf(parseDocumentErrorFormat, parseErr)
	}

	seenLogins := make(map[string]struct{})
	var accountRecords []records.AccountRecord
	document.Find(selectors.Cell).Each(func(_ int, cell *goquery.Selection) {
		login := loginFromCell(cell, selectors)
		if login == "" {
			return
		}
		if _, alreadySeen := seenLogins[login]; alreadySeen {
			return
		}
		seenLogins[login] = struct{}{}

		record := records.AccountRecord{Login: login}
		if avatarURL, found := cell.Find(selectors.Avatar).First().Attr(attributeSrc); found {
			record.Avatar = avatarURL
		}
		record.DisplayName = strings.TrimSpace(cell.Find(selectors.DisplayName).First().Text())
		accountRecords = append(accountRecords, record)
	})
	if len(accountRecords) == 0 {
		return nil, ErrNoCells
	}

	records.SortRecords(accountRecords)
	return accountRecords, nil
}

func loginFromCell(cell *goquery.Selection, selectors Selectors) string {
	hrefValue, found := cell.Find(selectors.ProfileLink).First().Attr(attributeHref)
	if !found {
		return ""
	}
	trimmedHref := strings.TrimPrefix(strings.TrimSpace(hrefValue), profilePathPrefix)
	if trimmedHref == "" || strings.Contains(trimmedHref, "/") {
		return ""
	}
	return trimmedHref
}
