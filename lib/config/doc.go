// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for rattrap.
//
// A config file holds defaults for each command: build (chunk size,
// compressor, checksum, workers), extract (destination, file mode),
// serve (listen address, timeouts, connection count), and mount
// (kernel cache timeout, allow_other). Command-line flags override
// file values.
//
// The file is chosen by [Resolve]: an explicit --config path, else
// the RATTRAP_CONFIG environment variable, else the built-in
// [Default]. There is no search of home or system directories.
//
// YAML is the primary format. Files ending in .json or .jsonc are
// also accepted and may carry comments and trailing commas; they are
// normalized with tidwall/jsonc and decoded by the same YAML decoder.
//
// ${HOME} and ${VAR:-default} patterns are expanded in
// extract.dest. [Config.Validate] reports every problem at once via
// errors.Join.
package config
