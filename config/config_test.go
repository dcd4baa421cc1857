package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_DeserialiseFromJSON_Defaults(t *testing.T) {
	var c Config
	require.NoError(t, c.DeserialiseFromJSON([]byte(`{"ListenAddress": "0.0.0.0"}`)))
	require.Equal(t, "0.0.0.0", c.ListenAddress)
	require.Equal(t, DefaultListenPort, c.ListenPort)
	require.Equal(t, DefaultPerIPLimit, c.PerIPLimit)
	require.Equal(t, DefaultMaxMessageBytes, c.MaxMessageBytes)
}

func TestConfig_DeserialiseFromJSON_ExplicitValues(t *testing.T) {
	var c Config
	input := `{
		"ListenAddress": "127.0.0.1",
		"ListenPort": 11334,
		"PerIPLimit": 5,
		"MaxMessageBytes": 1024,
		"MetricsListenAddress": "127.0.0.1:9100"
	}`
	require.NoError(t, c.DeserialiseFromJSON([]byte(input)))
	require.Equal(t, 11334, c.ListenPort)
	require.Equal(t, 5, c.PerIPLimit)
	require.Equal(t, 1024, c.MaxMessageBytes)
	require.Equal(t, "127.0.0.1:9100", c.MetricsListenAddress)
}

func TestConfig_DeserialiseFromJSON_UnpairedTLS(t *testing.T) {
	var c Config
	err := c.DeserialiseFromJSON([]byte(`{"TLSCertPath": "cert.pem"}`))
	require.Error(t, err)
}

func TestConfig_DeserialiseFromJSON_MalformedJSON(t *testing.T) {
	var c Config
	err := c.DeserialiseFromJSON([]byte(`not json`))
	require.Error(t, err)
}
