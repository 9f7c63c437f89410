package web

import (
	"embed"
)

// staticFiles holds the control page and its script and stylesheet.
//
//go:embed static/*
var staticFiles embed.FS
