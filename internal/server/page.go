package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/g-sync/gsync/internal/records"
)

const (
	pageTitleText            = "Follow Review"
	marshalDatasetErrFormat  = "marshal dataset: %w"
	executeTemplateErrFormat = "execute template %s: %w"
)

type reviewPageViewModel struct {
	Title       string
	RecordCount int
	File        string
	DatasetJSON template.JS
	CSS         template.CSS
	JS          template.JS
}

// RenderReviewPage renders the review page with the dataset embedded as the
// page's initial input, mirroring what the sync endpoint later accepts back.
func RenderReviewPage(dataset records.Dataset) (string, error) {
	datasetJSON, marshalErr := json.Marshal(dataset)
	if marshalErr != nil {
		return "", fmt.Errorf(marshalDatasetErrFormat, marshalErr)
	}

	cssText, cssErr := embeddedText(embeddedBaseCSSPath)
	if cssErr != nil {
		return "", cssErr
	}
	jsText, jsErr := embeddedText(embeddedAppJSPath)
	if jsErr != nil {
		return "", jsErr
	}

	parsedTemplate, parseErr := parseTemplates(embeddedFS, templateIndexFile)
	if parseErr != nil {
		return "", parseErr
	}

	viewModel := reviewPageViewModel{
		Title:       pageTitleText,
		RecordCount: len(dataset.Data),
		File:        dataset.File,
		DatasetJSON: template.JS(datasetJSON),
		CSS:         template.CSS(cssText),
		JS:          template.JS(jsText),
	}

	var buffer bytes.Buffer
	if executeErr := parsedTemplate.ExecuteTemplate(&buffer, templateIndexName, viewModel); executeErr != nil {
		return "", fmt.Errorf(executeTemplateErrFormat, templateIndexName, executeErr)
	}
	return buffer.String(), nil
}
