package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# smbiod Configuration File
#
# Every key can be overridden with an environment variable:
#   SMBIOD_<SECTION>_<KEY>, e.g. SMBIOD_CONNECTION_REQUEST_TIMEOUT=10s
#
# The client password is never stored here. Set SMBIOD_CLIENT_PASSWORD
# or answer the prompt.
`

var sectionComments = map[string]string{
	"logging":          "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, file path)",
	"telemetry":        "OpenTelemetry tracing (OTLP gRPC) and Pyroscope profiling",
	"metrics":          "Prometheus endpoint served by 'smbiod attach' at :<port>/metrics",
	"connection":       "Connection engine tuning: timeouts, keepalive and multiplexing",
	"transport":        "TCP transport to port 445 with NetBIOS framing",
	"client":           "SMB2 identity; leave username empty for an anonymous session",
	"shutdown_timeout": "Maximum time to wait for a graceful disconnect",
}

// InitConfig writes a default configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := renderDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// renderDefaultConfig marshals the defaults and annotates each top-level
// section with a comment.
func renderDefaultConfig() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}

	// Encode yields the mapping directly; keys and values alternate.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
