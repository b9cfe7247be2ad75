package config

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type validatedConfig struct {
	Label    string `validate:"required"`
	Attempts int    `validate:"gte=1"`
	Redis    RedisConfig
}

func TestValidationMessages(t *testing.T) {
	tests := map[string]struct {
		err      error
		expected []string
	}{
		"nil": {err: nil, expected: nil},
		"tags": {
			err: Validate(validatedConfig{Attempts: 0, Redis: RedisConfig{Addr: "localhost:6379", DB: 20}}),
			expected: []string{
				"Field Label is required but was not found",
				"Field Attempts has invalid value 0: gte",
				"Field Redis.DB has invalid value 20: lte",
			},
		},
		"plain": {err: errors.New("boom"), expected: []string{"boom"}},
		"multierror": {
			err: multierror.Append(errors.New("first"), Validate(validatedConfig{Attempts: 1, Redis: RedisConfig{Addr: "x"}})),
			expected: []string{
				"first",
				"Field Label is required but was not found",
			},
		},
		"wrapped multierror": {
			err:      errors.WithStack(multierror.Append(nil, errors.New("first"), errors.New("second"))),
			expected: []string{"first", "second"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ValidationMessages(tc.err))
		})
	}
}
