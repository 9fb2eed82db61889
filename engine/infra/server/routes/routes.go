package routes

import "strings"

const defaultBase = "/api/v0"

var base = defaultBase

// SetBase overrides the API base path. Empty restores the default.
func SetBase(path string) {
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	if path == "/" {
		path = defaultBase
	}
	base = path
}

// Base returns the versioned API base path (e.g., "/api/v0").
func Base() string {
	return base
}

func buildResourceRoute(resource string) string {
	return Base() + "/" + resource
}

func Health() string    { return buildResourceRoute("health") }
func Upload() string    { return buildResourceRoute("upload") }
func Query() string     { return buildResourceRoute("query") }
func Documents() string { return buildResourceRoute("documents") }
func Reconcile() string { return buildResourceRoute("reconcile") }
