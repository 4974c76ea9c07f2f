package config

import (
	"io"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// Read reads a config from the given file path.
func Read(path string, logger golog.Logger) (*Config, error) {
	file, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %q", path)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Warnw("failed to close config file", "path", path, "error", cerr)
		}
	}()

	cfg, err := FromReader(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %q", path)
	}
	logger.Debugw("config loaded",
		"path", path, "board", cfg.Board.Name, "sensors", len(cfg.Sensors))
	return cfg, nil
}

// FromReader decodes a config. Files are JSON, with comments and trailing
// commas tolerated so hand-maintained configs stay pleasant to edit.
func FromReader(r io.Reader) (*Config, error) {
	var cfg Config
	if err := json5.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
