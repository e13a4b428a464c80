//go:build tools

// Package main (tools) pins dev-tool dependencies in go.mod that no
// production code imports, per the standard Go tools.go idiom.
package main

import (
	_ "github.com/go-gremlins/gremlins"
)
