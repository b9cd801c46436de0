//go:build tools

// Package linechat pins tools run by go generate, e.g. mockgen.
package linechat

import (
	_ "go.uber.org/mock/mockgen"
)
