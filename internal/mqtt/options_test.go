package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/wiserd/internal/config"
)

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Host:       "broker.local",
		Port:       8883,
		TLS:        true,
		ClientID:   "wiserd-test",
		Username:   "bridge",
		Password:   "secret",
		MaxBackoff: config.Duration(30 * time.Second),
	}

	opts := buildClientOptions(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl", opts.Servers[0].Scheme)
	assert.Equal(t, "broker.local:8883", opts.Servers[0].Host)
	assert.Equal(t, "wiserd-test", opts.ClientID)
	assert.Equal(t, "bridge", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.AutoReconnect)
	assert.Equal(t, 30*time.Second, opts.MaxReconnectInterval)
	require.NotNil(t, opts.TLSConfig)
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{Host: "localhost", Port: 1883, ClientID: "wiserd"})
	configureLWT(opts, NewTopics("wiserd"), "wiserd")

	assert.True(t, opts.WillEnabled)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, "wiserd/bridge/status", opts.WillTopic)

	var status map[string]string
	require.NoError(t, json.Unmarshal(opts.WillPayload, &status))
	assert.Equal(t, "offline", status["status"])
	assert.Equal(t, "unexpected_disconnect", status["reason"])
}
