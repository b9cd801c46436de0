package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/wtask/linechat/pkg/semver"
)

// Exit codes of linechat process.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

var (
	// BinaryName - name of run application binary
	BinaryName = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))

	// Version - app version fingerprint
	Version = semver.V{Minor: 4}.String()

	// buildVersion - set at link time: go build -ldflags "-X main.buildVersion=v0.4.1+abc123"
	buildVersion = ""
)

func init() {
	if buildVersion == "" {
		return
	}
	if v, err := semver.Parse(buildVersion); err == nil {
		Version = v.String()
	}
}
