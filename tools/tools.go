//go:build tools

package tools

// Tool dependencies pinned in go.mod. Run `go mod tidy` after changes.

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
	_ "github.com/pressly/goose/v3/cmd/goose"
)
