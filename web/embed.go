package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

// Templates returns the embedded page templates.
func Templates() (fs.FS, error) {
	return fs.Sub(templateFiles, "templates")
}

// Static returns the embedded stylesheets and scripts.
func Static() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}
