package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWalltime(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		"hours minutes seconds": {input: "1:00:00", expected: time.Hour},
		"hours minutes":         {input: "12:30", expected: 12*time.Hour + 30*time.Minute},
		"with days":             {input: "2-01:00:05", expected: 49*time.Hour + 5*time.Second},
		"garbage":               {input: "1:xx:00", wantErr: true},
		"too many fields":       {input: "1:00:00:00", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			d, err := ParseWalltime(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, d)
		})
	}
}

func TestFormatWalltime(t *testing.T) {
	assert.Equal(t, "1:00:00", FormatWalltime(time.Hour))
	assert.Equal(t, "40:00:00", FormatWalltime(40*time.Hour))
	assert.Equal(t, "0:01:05", FormatWalltime(65*time.Second))
}

type hookedConfig struct {
	Walltime time.Duration
	Backoff  time.Duration
	Keys     []string
}

func TestCustomHooks(t *testing.T) {
	v := viper.New()
	v.Set("walltime", "2:00:00")
	v.Set("backoff", "30s")
	v.Set("keys", "PATH,PYTHONPATH")

	var c hookedConfig
	require.NoError(t, v.Unmarshal(&c, CustomHooks...))
	assert.Equal(t, 2*time.Hour, c.Walltime)
	assert.Equal(t, 30*time.Second, c.Backoff)
	assert.Equal(t, []string{"PATH", "PYTHONPATH"}, c.Keys)
}
