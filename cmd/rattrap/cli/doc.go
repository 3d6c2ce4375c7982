// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework behind the rattrap binary: a
// tree of [Command] values dispatched by name, flags bound from tagged
// params structs ([FlagsFromParams]), --json output ([JSONOutput]),
// and a structured logger per invocation ([NewCommandLogger]).
package cli
