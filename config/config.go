// Package config reads the map server's configuration file.
package config

import (
	goutils "go.viam.com/utils"

	"go.viam.com/mapserver/console"
	"go.viam.com/mapserver/mapserver"
)

// DefaultHTTPAddress is where the status and lookup endpoints listen when unset.
const DefaultHTTPAddress = "localhost:8080"

// Config is the full configuration of a map server process.
type Config struct {
	mapserver.Config `json:",squash"`

	// InboxDir is watched for submap tickets.
	InboxDir    string `json:"inbox_dir"`
	HTTPAddress string `json:"http_address"`
	// LogFile, if set, receives a rotated copy of every log line.
	LogFile string `json:"log_file"`
	Debug   bool   `json:"debug"`

	ConfigFilePath string `json:"-"`
}

// Default returns a config with every optional field at its default.
func Default() Config {
	return Config{
		Config:      mapserver.DefaultConfig(),
		HTTPAddress: DefaultHTTPAddress,
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if err := c.Config.Validate(path); err != nil {
		return err
	}
	if c.InboxDir == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "inbox_dir")
	}
	if c.HTTPAddress == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "http_address")
	}
	for _, command := range c.SubmapCommands {
		if err := console.ValidateCommand(command); err != nil {
			return goutils.NewConfigValidationError(path+".submap_commands", err)
		}
	}
	for _, command := range c.GlobalMapCommands {
		if err := console.ValidateCommand(command); err != nil {
			return goutils.NewConfigValidationError(path+".global_map_commands", err)
		}
	}
	return nil
}
