package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// config is the demo binary's file-based configuration, loaded with
// github.com/BurntSushi/toml. The library itself is code-first (Server
// has no file-config notion of its own), but a hosting binary choosing a
// TOML file over flags is exactly the kind of ambient concern worth a
// real parser instead of a hand-rolled one.
type config struct {
	Port                  int    `toml:"port"`
	UploadsDir            string `toml:"uploads_dir"`
	PayloadLimitMiB       int64  `toml:"payload_limit_mib"`
	UploadsLimitMiB       int64  `toml:"uploads_limit_mib"`
	ConnectionTimeoutSecs int    `toml:"connection_timeout_secs"`
	ConnectionLimit       int    `toml:"connection_limit"`
	ThreadPoolSize        int    `toml:"thread_pool_size"`

	ServiceToken string `toml:"service_token"`

	TLSCertFile    string `toml:"tls_cert_file"`
	TLSKeyFile     string `toml:"tls_key_file"`
	TLSKeyPassword string `toml:"tls_key_password"`
	TLSTrustFile   string `toml:"tls_trust_file"`
	TLSPriorities  string `toml:"tls_priorities"`
}

func defaultConfig() config {
	return config{
		Port:                  8080,
		PayloadLimitMiB:       4,
		UploadsLimitMiB:       64,
		ConnectionTimeoutSecs: 15,
	}
}

// loadConfig reads path as a TOML document over defaultConfig's baseline.
// A missing path is not an error: the defaults stand alone.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}
