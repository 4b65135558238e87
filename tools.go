//go:build tools

package tools

// Tool dependencies, tracked as blank imports so go.mod pins their
// versions. Run `go generate ./...` after changing interfaces or enums.
import (
	_ "github.com/vektra/mockery/v2"
	_ "golang.org/x/tools/cmd/stringer"
)
