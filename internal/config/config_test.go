package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:               22099,
		MaxVariables:        1,
		MaxClients:          1,
		CPURejectThreshold:  85,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

func TestConfigValidateAccepts(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	c := validConfig()
	c.Port = 70000
	assert.Error(t, c.Validate())
}

func TestConfigValidateRejectsZeroCapacity(t *testing.T) {
	c := validConfig()
	c.MaxVariables = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.MaxClients = 0
	assert.Error(t, c.Validate())
}

func TestConfigValidateRejectsBadCPUThreshold(t *testing.T) {
	c := validConfig()
	c.CPURejectThreshold = 150
	assert.Error(t, c.Validate())
}

func TestConfigValidateRejectsUnknownLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	assert.Error(t, c.Validate())
}

func TestConfigValidateRejectsUnknownLogFormat(t *testing.T) {
	c := validConfig()
	c.LogFormat = "xml"
	assert.Error(t, c.Validate())
}

func TestConfigAddr(t *testing.T) {
	c := &Config{Address: "127.0.0.1", Port: 22099}
	assert.Equal(t, "127.0.0.1:22099", c.Addr())
}

func TestLoadAppliesEnvAndDefaults(t *testing.T) {
	t.Setenv("VARSERVER_PORT", "4000")
	t.Setenv("VARSERVER_MAX_VARIABLES", "10")
	t.Setenv("VARSERVER_MAX_CLIENTS", "10")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 10, cfg.MaxVariables)
	assert.Equal(t, "info", cfg.LogLevel, "unset fields fall back to envDefault")
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("VARSERVER_LOG_LEVEL", "nonsense")
	_, err := Load(nil)
	assert.Error(t, err)
}
