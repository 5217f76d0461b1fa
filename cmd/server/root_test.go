package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVapidCommandPrintsKeyPair(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"vapid"})

	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "VAPID_PUBLIC_KEY="))
	assert.True(t, strings.HasPrefix(lines[1], "VAPID_PRIVATE_KEY="))
	assert.Greater(t, len(lines[0]), len("VAPID_PUBLIC_KEY=")+40)
}

func TestRunServerRejectsMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", t.TempDir() + "/missing.yaml"})
	assert.Error(t, cmd.Execute())
}
