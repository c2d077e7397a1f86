package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/g-sync/gsync/internal/records"
)

const (
	followingURLFormat        = "https://github.com/%s?tab=following"
	documentRootSelector      = "html"
	scrollScript              = "window.scrollTo(0, document.body.scrollHeight)"
	documentHeightScript      = "document.body.scrollHeight"
	defaultScrollPause        = 2 * time.Second
	defaultStableScrollRounds = 3
	defaultNavigationTimeout  = 5 * time.Minute
	errMessageEmptyLogin      = "a source login is required"
	navigateErrorFormat       = "navigate to %s: %w"
	scrollErrorFormat         = "scroll following page: %w"
	captureErrorFormat        = "capture following page: %w"
)

// ErrEmptyLogin indicates a scrape requested without a source login.
var ErrEmptyLogin = errors.New(errMessageEmptyLogin)

// BrowserConfig customizes the headless browser session.
type BrowserConfig struct {
	UserDataDirectory string
	Headless          bool
	ScrollPause       time.Duration
	StableRounds      int
	Timeout           time.Duration
}

// Scraper drives a headless browser through a following page, scrolling
// until the listing stops growing, and parses the captured markup.
type Scraper struct {
	browserConfig BrowserConfig
	selectors     Selectors
}

// NewScraper constructs a Scraper with defaults filled in.
func NewScraper(browserConfig BrowserConfig, selectors Selectors) *Scraper {
	if browserConfig.ScrollPause <= 0 {
		browserConfig.ScrollPause = defaultScrollPause
	}
	if browserConfig.StableRounds <= 0 {
		browserConfig.StableRounds = defaultStableScrollRounds
	}
	if browserConfig.Timeout <= 0 {
		browserConfig.Timeout = defaultNavigationTimeout
	}
	return &Scraper{browserConfig: browserConfig, selectors: selectors}
}

// ScrapeFollowing loads the following page for a login and returns the
// account records it lists.
func (scraper *Scraper) ScrapeFollowing(ctx context.Context, sourceLogin string) ([]records.AccountRecord, error) {
	if strings.TrimSpace(sourceLogin) == "" {
		return nil, ErrEmptyLogin
	}
	pageHTML, captureErr := scraper.capturePage(ctx, fmt.Sprintf(followingURLFormat, sourceLogin))
	if captureErr != nil {
		return nil, captureErr
	}
	return ParseFollowing(pageHTML, scraper.selectors)
}

func (scraper *Scraper) capturePage(ctx context.Context, pageURL string) (string, error) {
	allocatorOptions := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", scraper.browserConfig.Headless),
	)
	if scraper.browserConfig.UserDataDirectory != "" {
		allocatorOptions = append(allocatorOptions, chromedp.UserDataDir(scraper.browserConfig.UserDataDirectory))
	}
	allocatorContext, cancelAllocator := chromedp.NewExecAllocator(ctx, allocatorOptions...)
	defer cancelAllocator()

	browserContext, cancelBrowser := chromedp.NewContext(allocatorContext)
	defer cancelBrowser()

	browserContext, cancelTimeout := context.WithTimeout(browserContext, scraper.browserConfig.Timeout)
	defer cancelTimeout()

	if navigateErr := chromedp.Run(browserContext, chromedp.Navigate(pageURL)); navigateErr != nil {
		return "", fmt.Errorf(navigateErrorFormat, pageURL, navigateErr)
	}
	if scrollErr := scraper.scrollUntilStable(browserContext); scrollErr != nil {
		return "", fmt.Errorf(scrollErrorFormat, scrollErr)
	}

	var pageHTML string
	if captureErr := chromedp.Run(browserContext, chromedp.OuterHTML(documentRootSelector, &pageHTML)); captureErr != nil {
		return "", fmt.Errorf(captureErrorFormat, captureErr)
	}
	return pageHTML, nil
}

// scrollUntilStable keeps scrolling to the document bottom until the
// document height stops changing for a run of consecutive rounds.
func (scraper *Scraper) scrollUntilStable(browserContext context.Context) error {
	previousHeight := -1
	stableRounds := 0
	for stableRounds < scraper.browserConfig.StableRounds {
		var currentHeight int
		scrollActions := []chromedp.Action{
			chromedp.Evaluate(scrollScript, nil),
			chromedp.Sleep(scraper.browserConfig.ScrollPause),
			chromedp.Evaluate(documentHeightScript, &currentHeight),
		}
		if runErr := chromedp.Run(browserContext, scrollActions...); runErr != nil {
			return runErr
		}
		if currentHeight == previousHeight {
			stableRounds++
		} else {
			stableRounds = 0
		}
		previousHeight = currentHeight
	}
	return nil
}
