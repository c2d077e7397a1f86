package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
)

//go:embed web/static/* web/templates/*
var embeddedFS embed.FS

const (
	templateBaseName     = "base"
	templateIndexFile    = "web/templates/index.tmpl"
	templateIndexName    = "index.tmpl"
	embeddedBaseCSSPath  = "web/static/base.css"
	embeddedAppJSPath    = "web/static/app.js"
	embedReadErrorFormat = "embed read %s: %w"
)

func embeddedText(path string) (string, error) {
	content, err := fs.ReadFile(embeddedFS, path)
	if err != nil {
		return "", fmt.Errorf(embedReadErrorFormat, path, err)
	}
	return string(content), nil
}

func parseTemplates(fileSystem fs.FS, files ...string) (*template.Template, error) {
	return template.New(templateBaseName).ParseFS(fileSystem, files...)
}
