// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/bureau-foundation/rattrap/lib/config"
)

// CommonParams holds the flags every rattrap command accepts. Embed it
// in a command's params struct.
type CommonParams struct {
	ConfigPath string `json:"-" flag:"config" desc:"config file (default: $RATTRAP_CONFIG, else built-in defaults)"`
	Verbose    bool   `json:"-" flag:"verbose,v" desc:"log at debug level"`
}

// LoadConfig resolves and validates the configuration named by
// --config, RATTRAP_CONFIG, or the built-in defaults.
func (p *CommonParams) LoadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// RequireArgs checks the positional argument count, naming the
// expected arguments in the error.
func RequireArgs(args []string, names ...string) error {
	if len(args) < len(names) {
		return fmt.Errorf("missing argument <%s>", names[len(args)])
	}
	if len(args) > len(names) {
		return fmt.Errorf("unexpected argument %q", args[len(names)])
	}
	return nil
}
