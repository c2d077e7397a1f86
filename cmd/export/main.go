package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/g-sync/gsync/internal/github"
	"github.com/g-sync/gsync/internal/records"
)

const (
	flagTokenName             = "token"
	flagTokenDescription      = "GitHub token with read:user scope (falls back to GITHUB_TOKEN)"
	flagOutName               = "out"
	flagOutDescription        = "Output dataset file path"
	flagConcurrencyName       = "concurrency"
	flagConcurrencyDesc       = "Concurrent social-account lookups"
	defaultOutputFileName     = "following.json"
	defaultConcurrency        = 8
	tokenEnvironmentVariable  = "GITHUB_TOKEN"
	missingTokenErrorMessage  = "error: a token is required via --token or GITHUB_TOKEN"
	clientErrorFormat         = "github client: %v"
	exportErrorFormat         = "export following: %v"
	saveErrorFormat           = "write %s: %v"
	exportSummaryFormat       = "Wrote %d records to %s\n"
)

func main() {
	var tokenValue string
	var outputPath string
	var concurrency int

	flag.StringVar(&tokenValue, flagTokenName, "", flagTokenDescription)
	flag.StringVar(&outputPath, flagOutName, defaultOutputFileName, flagOutDescription)
	flag.IntVar(&concurrency, flagConcurrencyName, defaultConcurrency, flagConcurrencyDesc)
	flag.Parse()

	if tokenValue == "" {
		tokenValue = os.Getenv(tokenEnvironmentVariable)
	}
	if tokenValue == "" {
		fmt.Fprintln(os.Stderr, missingTokenErrorMessage)
		os.Exit(2)
	}

	client, err := github.NewClient(github.Config{Token: tokenValue, EnrichConcurrency: concurrency})
	if err != nil {
		dief(clientErrorFormat, err)
	}

	accountRecords, err := client.ExportFollowing(context.Background())
	if err != nil {
		dief(exportErrorFormat, err)
	}

	if err := records.SaveDataset(outputPath, accountRecords); err != nil {
		dief(saveErrorFormat, outputPath, err)
	}

	fmt.Printf(exportSummaryFormat, len(accountRecords), outputPath)
}

func dief(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
