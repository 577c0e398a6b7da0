package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/fieldwatch/internal/privacy"
)

func TestContextAccessors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"empty fields", &Context{}, UnknownValue, UnknownValue},
		{"set", NewContext("1.2.0", "2026-10-01", "sys"), "1.2.0", "2026-10-01"},
		{"pre-release", NewContext("1.3.0-beta.1", "", "sys"), "1.3.0-beta.1", UnknownValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestNewContextGeneratesSystemID(t *testing.T) {
	t.Parallel()

	a := NewContext("1.0.0", "", "")
	b := NewContext("1.0.0", "", "")
	assert.True(t, privacy.IsValidSystemID(a.GetSystemID()), a.GetSystemID())
	assert.NotEqual(t, a.GetSystemID(), b.GetSystemID())
	assert.Equal(t, "fixed", NewContext("", "", "fixed").GetSystemID())
	assert.Equal(t, "fieldwatch 1.0.0 (built unknown)", a.String())
}
