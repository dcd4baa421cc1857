/*
Package config loads the JSON configuration for the protocol engine's host
daemon: listen address and port, connection limits, optional TLS
certificate, and the metrics listener address.
*/
package config

import (
	"encoding/json"
	"fmt"

	"github.com/rspamd-go/protoengine/logx"
)

// Config is deserialised from a single JSON document and used to construct the host daemon.
type Config struct {
	// ListenAddress is the IP address to listen on. Use 0.0.0.0 to listen on all network interfaces.
	ListenAddress string `json:"ListenAddress"`
	// ListenPort is the TCP port number to listen on.
	ListenPort int `json:"ListenPort"`

	// TLSCertPath and TLSKeyPath, when both set, enable TLS on the listener.
	TLSCertPath string `json:"TLSCertPath"`
	TLSKeyPath  string `json:"TLSKeyPath"`

	// PerIPLimit is the maximum number of connections accepted from a single client IP per second.
	PerIPLimit int `json:"PerIPLimit"`
	// MaxMessageBytes caps the Content-Length the daemon will read for a single task's body.
	MaxMessageBytes int `json:"MaxMessageBytes"`

	// MetricsListenAddress, when non-empty, serves a Prometheus /metrics endpoint (host:port).
	MetricsListenAddress string `json:"MetricsListenAddress"`

	Logger logx.Logger `json:"-"`
}

// Defaults applied when the corresponding JSON field is absent or zero.
const (
	DefaultListenPort      = 11333
	DefaultPerIPLimit      = 20
	DefaultMaxMessageBytes = 32 * 1024 * 1024
)

// DeserialiseFromJSON parses in into config and fills in defaults for fields the JSON document left at zero value.
func (config *Config) DeserialiseFromJSON(in []byte) error {
	config.Logger = logx.Logger{ComponentName: "Config"}
	if err := json.Unmarshal(in, config); err != nil {
		return err
	}
	if config.ListenPort == 0 {
		config.ListenPort = DefaultListenPort
	}
	if config.PerIPLimit == 0 {
		config.PerIPLimit = DefaultPerIPLimit
	}
	if config.MaxMessageBytes == 0 {
		config.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return config.validate()
}

func (config *Config) validate() error {
	if (config.TLSCertPath == "") != (config.TLSKeyPath == "") {
		return fmt.Errorf("config: TLSCertPath and TLSKeyPath must be set together")
	}
	if config.PerIPLimit < 1 {
		return fmt.Errorf("config: PerIPLimit must be positive")
	}
	if config.MaxMessageBytes < 1 {
		return fmt.Errorf("config: MaxMessageBytes must be positive")
	}
	return nil
}
