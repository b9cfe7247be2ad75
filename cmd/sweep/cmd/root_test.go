package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Commands(t *testing.T) {
	root := RootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"grid", "random", "sequential", "cmaes", "reload", "status", "version"}, names)
}

func TestRunFlags(t *testing.T) {
	tests := map[string]struct {
		command string
		wait    bool
	}{
		"grid":       {command: "grid", wait: true},
		"random":     {command: "random", wait: true},
		"sequential": {command: "sequential", wait: false},
		"cmaes":      {command: "cmaes", wait: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, _, err := RootCmd().Find([]string{tc.command})
			require.NoError(t, err)
			assert.NotNil(t, c.Flags().Lookup(dryRunFlag))
			assert.Equal(t, tc.wait, c.Flags().Lookup(waitFlag) != nil)
		})
	}
}

func TestVersionCmd(t *testing.T) {
	root := RootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Regexp(t, `Version:\s+dev\n`, out.String())
	assert.Contains(t, out.String(), "Go version:")
}
