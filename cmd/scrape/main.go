package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/g-sync/gsync/internal/records"
	"github.com/g-sync/gsync/internal/scraper"
)

const (
	flagLoginName            = "login"
	flagLoginDescription     = "GitHub login whose following page to scrape"
	flagOutName              = "out"
	flagOutDescription       = "Output dataset file path"
	flagUserDataDirName      = "user-data-dir"
	flagUserDataDirDesc      = "Browser profile directory (keeps an existing login)"
	flagHeadlessName         = "headless"
	flagHeadlessDescription  = "Run the browser without a window"
	flagTimeoutName          = "timeout"
	flagTimeoutDescription   = "Overall scrape timeout"
	defaultOutputFileName    = "following.json"
	defaultScrapeTimeout     = 5 * time.Minute
	missingLoginErrorMessage = "error: --login is required"
	scrapeErrorFormat        = "scrape following: %v"
	saveErrorFormat          = "write %s: %v"
	scrapeSummaryFormat      = "Wrote %d records to %s\n"
)

func main() {
	var sourceLogin string
	var outputPath string
	var userDataDirectory string
	var headless bool
	var timeout time.Duration

	flag.StringVar(&sourceLogin, flagLoginName, "", flagLoginDescription)
	flag.StringVar(&outputPath, flagOutName, defaultOutputFileName, flagOutDescription)
	flag.StringVar(&userDataDirectory, flagUserDataDirName, "", flagUserDataDirDesc)
	flag.BoolVar(&headless, flagHeadlessName, true, flagHeadlessDescription)
	flag.DurationVar(&timeout, flagTimeoutName, defaultScrapeTimeout, flagTimeoutDescription)
	flag.Parse()

	if sourceLogin == "" {
		fmt.Fprintln(os.Stderr, missingLoginErrorMessage)
		os.Exit(2)
	}

	pageScraper := scraper.NewScraper(scraper.BrowserConfig{
		UserDataDirectory: userDataDirectory,
		Headless:          headless,
		Timeout:           timeout,
	}, scraper.DefaultSelectors())

	accountRecords, err := pageScraper.ScrapeFollowing(context.Background(), sourceLogin)
	if err != nil {
		dief(scrapeErrorFormat, err)
	}

	if err := records.SaveDataset(outputPath, accountRecords); err != nil {
		dief(saveErrorFormat, outputPath, err)
	}

	fmt.Printf(scrapeSummaryFormat, len(accountRecords), outputPath)
}

func dief(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
