package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kitchenConfig struct {
	Port         int           `env:"TEST_KITCHEN_PORT" envDefault:"8080"`
	Queue        string        `env:"TEST_KITCHEN_QUEUE" envDefault:"kitchen.tickets"`
	PrepTimeout  time.Duration `env:"TEST_KITCHEN_PREP_TIMEOUT" envDefault:"20m"`
	Brokers      []string      `env:"TEST_KITCHEN_BROKERS" envSeparator:","`
	AcceptOrders bool          `env:"TEST_KITCHEN_ACCEPT_ORDERS" envDefault:"true"`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want kitchenConfig
	}{
		{
			name: "defaults",
			want: kitchenConfig{Port: 8080, Queue: "kitchen.tickets", PrepTimeout: 20 * time.Minute, AcceptOrders: true},
		},
		{
			name: "overrides",
			env: map[string]string{
				"TEST_KITCHEN_PORT":          "9091",
				"TEST_KITCHEN_QUEUE":         "grill",
				"TEST_KITCHEN_PREP_TIMEOUT":  "90s",
				"TEST_KITCHEN_BROKERS":       "kafka-1:9092,kafka-2:9092",
				"TEST_KITCHEN_ACCEPT_ORDERS": "false",
			},
			want: kitchenConfig{
				Port:        9091,
				Queue:       "grill",
				PrepTimeout: 90 * time.Second,
				Brokers:     []string{"kafka-1:9092", "kafka-2:9092"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			var cfg kitchenConfig
			require.NoError(t, Load(&cfg))
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	type secretConfig struct {
		Secret string `env:"TEST_KITCHEN_SECRET,required"`
	}

	t.Run("required variable missing", func(t *testing.T) {
		var cfg secretConfig
		err := Load(&cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
		assert.Contains(t, err.Error(), "TEST_KITCHEN_SECRET")
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("TEST_KITCHEN_PREP_TIMEOUT", "soon")
		var cfg kitchenConfig
		err := Load(&cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("not a pointer", func(t *testing.T) {
		require.Error(t, Load(kitchenConfig{}))
	})
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoadDotEnv_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_KITCHEN_QUEUE='unterminated\n"), 0o600))

	err := LoadDotEnv(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.env")
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_KITCHEN_QUEUE=from-file\nTEST_KITCHEN_PORT=7070\n"), 0o600))

	t.Setenv("TEST_KITCHEN_QUEUE", "from-env")
	// Registered with t.Setenv so the value set by the file is reverted after the test.
	t.Setenv("TEST_KITCHEN_PORT", "")
	require.NoError(t, os.Unsetenv("TEST_KITCHEN_PORT"))

	require.NoError(t, LoadDotEnv(path))

	var cfg kitchenConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, "from-env", cfg.Queue)
	assert.Equal(t, 7070, cfg.Port)
}
