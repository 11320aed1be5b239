package cli

import (
	"bytes"
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setVersion(t *testing.T, v, c, d string) {
	t.Helper()
	ov, oc, od := version, commit, date
	t.Cleanup(func() { version, commit, date = ov, oc, od })
	SetVersionInfo(v, c, d)
}

func TestPrintVersion(t *testing.T) {
	setVersion(t, "1.2.3", "abc1234", "2026-01-08T12:00:00Z")

	var buf bytes.Buffer
	require.NoError(t, printVersion(&buf, false))

	output := buf.String()
	assert.Contains(t, output, "logpanel v1.2.3", "should show version with v prefix")
	assert.Contains(t, output, "commit: abc1234")
	assert.Contains(t, output, "built: 2026-01-08T12:00:00Z")
	assert.Contains(t, output, "go: "+runtime.Version())
	assert.Contains(t, output, "os/arch: "+runtime.GOOS+"/"+runtime.GOARCH)
}

func TestPrintVersion_Short(t *testing.T) {
	setVersion(t, "1.2.3", "abc1234", "today")

	var buf bytes.Buffer
	require.NoError(t, printVersion(&buf, true))
	assert.Equal(t, "1.2.3", strings.TrimSpace(buf.String()))
}

func TestPrintVersion_Dev(t *testing.T) {
	setVersion(t, "dev", "none", "unknown")

	var buf bytes.Buffer
	require.NoError(t, printVersion(&buf, false))
	assert.Contains(t, buf.String(), "logpanel dev", "dev version should not have v prefix")
}

func TestPrintVersion_JSON(t *testing.T) {
	setVersion(t, "1.2.3", "abc1234", "today")
	old := machineMode
	machineMode = true
	defer func() { machineMode = old }()

	var buf bytes.Buffer
	require.NoError(t, printVersion(&buf, false))

	var env JSONEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "v1.2.3", data["version"])
	assert.Equal(t, "abc1234", data["commit"])
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty string", input: "", want: ""},
		{name: "dev version", input: "dev", want: "dev"},
		{name: "version without prefix", input: "1.2.3", want: "v1.2.3"},
		{name: "version with prefix", input: "v1.2.3", want: "v1.2.3"},
		{name: "version with prerelease", input: "1.2.3-beta.1", want: "v1.2.3-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatVersion(tt.input))
		})
	}
}

func TestVersionCommandHasShortFlag(t *testing.T) {
	flag := versionCmd.Flags().Lookup("short")
	require.NotNil(t, flag, "version command should have --short flag")
	assert.Equal(t, "bool", flag.Value.Type())
	assert.Equal(t, "false", flag.DefValue)
}

func TestGetVersion(t *testing.T) {
	setVersion(t, "3.1.4", "x", "y")
	assert.Equal(t, "3.1.4", GetVersion())
}
