// Package config handles loading and validation of connector configuration
// files. A connector config is a JSON document describing one tap or target:
// its type, how to reach it, how to authenticate, and tuning knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/codeG12/DStream/internal/errs"
)

// Role says which side of the pipeline a connector config is used for.
type Role string

const (
	RoleTap    Role = "tap"
	RoleTarget Role = "target"
)

// DefaultBatchSize is applied when a target config omits batch_size.
const DefaultBatchSize = 1000

// Connector is the parsed form of a connector config file. Connection and
// Auth payloads are opaque to the core beyond dispatch-by-type; the concrete
// connector decides what it needs from them.
type Connector struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Connection Connection `json:"connection"`
	Auth       *Auth      `json:"auth,omitempty"`
	BatchSize  int        `json:"batch_size,omitempty"`
	Streams    []string   `json:"streams,omitempty"`
}

// Connection supports the three shapes from the config schema: a single URL,
// host/port/database, or a filesystem path. Exactly one shape must be set.
type Connection struct {
	URL      string `json:"url,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Auth is dispatched by Type; unused fields stay empty.
type Auth struct {
	Type         string `json:"type"`
	Key          string `json:"key,omitempty"`
	Header       string `json:"header,omitempty"`
	Token        string `json:"token,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

var authTypes = map[string]bool{
	"none":    true,
	"api_key": true,
	"bearer":  true,
	"basic":   true,
	"oauth2":  true,
}

// Load reads and parses a connector config file. Environment references like
// ${PG_PASSWORD} inside string values are expanded before parsing, so secrets
// can stay in the environment (or a .env file) instead of the config file.
func Load(path string) (*Connector, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var c Connector
	if err := json.Unmarshal([]byte(os.ExpandEnv(string(raw))), &c); err != nil {
		return nil, errs.ConfigInvalid("failed to parse config file '%s': %v", path, err)
	}

	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	return &c, nil
}

// Validate checks the structural invariants shared by all connector types.
// It runs before any connection is opened.
func (c *Connector) Validate() error {
	if c.Name == "" {
		return errs.ConfigInvalid("missing required field 'name'")
	}
	if c.Type == "" {
		return errs.ConfigInvalid("missing required field 'type'")
	}
	if c.BatchSize < 0 {
		return errs.ConfigInvalid("batch_size must be greater than 0")
	}

	shapes := 0
	if c.Connection.URL != "" {
		shapes++
	}
	if c.Connection.Host != "" {
		shapes++
	}
	if c.Connection.Path != "" {
		shapes++
	}
	if shapes == 0 {
		return errs.ConfigInvalid("connector %q: connection must set url, host, or path", c.Name)
	}
	if shapes > 1 {
		return errs.ConfigInvalid("connector %q: connection must set exactly one of url, host, or path", c.Name)
	}
	if c.Connection.Host != "" && c.Connection.Port == 0 {
		return errs.ConfigInvalid("connector %q: connection.port is required with connection.host", c.Name)
	}

	if c.Auth != nil && !authTypes[c.Auth.Type] {
		return errs.ConfigInvalid("connector %q: unknown auth type %q", c.Name, c.Auth.Type)
	}
	return nil
}

// WantsStream reports whether the config's optional stream allowlist admits
// the given stream name. An empty allowlist admits everything.
func (c *Connector) WantsStream(name string) bool {
	if len(c.Streams) == 0 {
		return true
	}
	for _, s := range c.Streams {
		if s == name {
			return true
		}
	}
	return false
}
