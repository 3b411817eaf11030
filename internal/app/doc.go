// Package app wires application dependencies for the CLI.
//
// It builds the logger, the encrypted key storage on the configured backend,
// the typed stores, the relay client and the high-level services from a
// parsed configuration, exposing them via the Wire struct for commands to use.
package app
