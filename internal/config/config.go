// Package config resolves and parses the on-disk configuration consumed by
// the session router, and the restricted-runner restriction schema consumed
// by internal/runner.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// ProxyEntry describes one proxy in the configured chain.
type ProxyEntry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	// Command overrides how this proxy is launched. Empty means the
	// convention command "symposium-proxy-<name>", resolved against PATH
	// (see internal/cmd's chain resolution).
	Command string `json:"command,omitempty"`
}

// Config is the persisted shape of ~/.symposium/config.jsonc, owned by the
// session router (core.conductor only reads the resulting chain once built).
type Config struct {
	Agent   string       `json:"agent"`
	Proxies []ProxyEntry `json:"proxies"`
	// Runners configures the restricted-runner hierarchy (internal/runner)
	// applied to every spawned proxy and agent subprocess, keyed by runner
	// type. Omitted or empty means subprocesses run unrestricted (exec).
	Runners map[string]*WorkspaceRunnerConfig `json:"runners,omitempty"`
}

// proxyCommand returns the command line to launch p with: Command if set,
// otherwise the "symposium-proxy-<name>" PATH convention.
func (p ProxyEntry) proxyCommand() string {
	if p.Command != "" {
		return p.Command
	}
	return "symposium-proxy-" + p.Name
}

// EnabledCommands returns the launch command for each enabled proxy, in
// configured order.
func (c Config) EnabledCommands() []string {
	var cmds []string
	for _, p := range c.Proxies {
		if p.Enabled {
			cmds = append(cmds, p.proxyCommand())
		}
	}
	return cmds
}

// Key returns a string that uniquely identifies this configuration's
// resulting chain, used by the session router to decide whether an existing
// conductor can be reused for a new session.
func (c Config) Key() string {
	enabled := make([]string, 0, len(c.Proxies))
	for _, p := range c.Proxies {
		if p.Enabled {
			enabled = append(enabled, p.Name)
		}
	}
	data, _ := json.Marshal(struct {
		Agent    string                            `json:"agent"`
		Proxies  []string                          `json:"proxies"`
		Commands []string                          `json:"commands"`
		Runners  map[string]*WorkspaceRunnerConfig `json:"runners,omitempty"`
	}{Agent: c.Agent, Proxies: enabled, Commands: c.EnabledCommands(), Runners: c.Runners})
	return string(data)
}

// EnabledProxies returns the names of enabled proxies, in configured order.
func (c Config) EnabledProxies() []string {
	var names []string
	for _, p := range c.Proxies {
		if p.Enabled {
			names = append(names, p.Name)
		}
	}
	return names
}

// Load reads and parses the configuration file at path. It returns
// (nil, nil) if the file does not exist — the session router interprets
// that as "no configuration", entering InitialSetup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(stripJSONC(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path as JSONC (plain JSON body; the
// ".jsonc" extension simply signals that hand edits may add comments, which
// stripJSONC tolerates on the next Load).
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// stripJSONC removes "//" line comments and "/* */" block comments that are
// outside of JSON string literals, so lenient hand-edited config files still
// parse as plain JSON.
func stripJSONC(data []byte) []byte {
	var out bytes.Buffer
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}

		if c == '/' && i+1 < len(data) && data[i+1] == '/' {
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out.WriteByte('\n')
			}
			continue
		}

		if c == '/' && i+1 < len(data) && data[i+1] == '*' {
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++
			continue
		}

		out.WriteByte(c)
	}
	return out.Bytes()
}
