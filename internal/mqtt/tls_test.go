package mqtt

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTLSConfig(t *testing.T) {
	cfg, err := LoadTLSConfig("", "", "")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = LoadTLSConfig("/nonexistent/ca.pem", "", "")
	assert.Error(t, err)

	_, err = LoadTLSConfig("", "client.pem", "client.key")
	assert.Error(t, err)
}

func TestOptionsAddress(t *testing.T) {
	o := Options{Host: "localhost", Port: 1883}
	assert.Equal(t, "tcp://localhost:1883", o.Address())
}

func TestOptionsAddressTLS(t *testing.T) {
	o := Options{Host: "broker", Port: 8883, TLS: &tls.Config{}}
	assert.Equal(t, "ssl://broker:8883", o.Address())
}
