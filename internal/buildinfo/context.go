// Package buildinfo holds build-time metadata injected at startup, kept
// apart from user configuration.
package buildinfo

import (
	"github.com/google/uuid"

	"github.com/tphakala/fieldwatch/internal/privacy"
)

// UnknownValue is reported for metadata the build did not set
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// SystemID identifies this installation in error reports
	SystemID string
}

// NewContext creates a build context. An empty systemID gets a random
// XXXX-XXXX-XXXX one.
func NewContext(version, buildDate, systemID string) *Context {
	if systemID == "" {
		var err error
		if systemID, err = privacy.GenerateSystemID(); err != nil {
			systemID = uuid.NewString()
		}
	}
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		SystemID:  systemID,
	}
}

// GetVersion returns the version or UnknownValue
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// GetSystemID returns the system id or UnknownValue
func (c *Context) GetSystemID() string {
	if c == nil || c.SystemID == "" {
		return UnknownValue
	}
	return c.SystemID
}

// String formats the version line printed by the version command
func (c *Context) String() string {
	return "fieldwatch " + c.GetVersion() + " (built " + c.GetBuildDate() + ")"
}
