// Package cmd implements the command-line interface of rKV. It opens
// environments on the local file system and provides diagnostics and load
// generators for them.
//
// The package is organized into several subpackages:
//
//   - env: Commands for whole environments (stat, list, analyze, sync, migrate)
//   - kv: Commands for the entries of one store (get, put, del, scan) and the
//     rand and perf load generators
//   - util: Shared utilities for flags, configuration and value parsing (internal use)
//
// Every flag can also be set with an environment variable prefixed RKV_
// (RKV_MAP_SIZE for --map-size), .env and .env.local files are loaded on start.
//
// See rkv -help for a list of all commands.
package cmd
