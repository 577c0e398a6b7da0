package main

import (
	"os"

	"github.com/tphakala/fieldwatch/cmd"
	"github.com/tphakala/fieldwatch/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	build := buildinfo.NewContext(version, buildDate, os.Getenv("FIELDWATCH_SYSTEM_ID"))
	if err := cmd.RootCommand(build).Execute(); err != nil {
		os.Exit(1)
	}
}
