package config

import (
	"bytes"
	"io"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/rdk/logging"
)

// Read reads a config from the given file, substituting environment variables first.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
// JSON documents are read as YAML.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	var attributes map[string]interface{}
	if err := yaml.NewDecoder(r).Decode(&attributes); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}

	cfg := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &cfg,
		Metadata:   &md,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrapf(err, "cannot decode config %q", originalPath)
	}
	if len(md.Unused) > 0 {
		logger.Warnw("config contains unknown fields", "path", originalPath, "fields", md.Unused)
	}

	if originalPath != "" {
		cfg.ConfigFilePath = originalPath
		if cfg.InboxDir != "" && !filepath.IsAbs(cfg.InboxDir) {
			cfg.InboxDir = filepath.Join(filepath.Dir(originalPath), cfg.InboxDir)
		}
	}
	if err := cfg.Validate("map_server"); err != nil {
		return nil, err
	}
	return &cfg, nil
}
