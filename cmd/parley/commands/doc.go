// Package commands defines the parley CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create the local identity and pre-keys
//   - fingerprint    Print the identity fingerprint
//   - register       Publish your prekey bundle to a relay
//   - start-session  Establish an X3DH session with a peer device
//   - send           Encrypt and send a message
//   - recv           Fetch and decrypt queued messages
//   - watch          Poll for messages until interrupted
//   - sessions       List sessions
//   - teardown       Delete a session
//   - sweep          Delete expired records
//   - config         Print the effective configuration
//
// # Implementation
//
// The root command loads parley.toml, applies --profile and --relay, unlocks
// the key store with the passphrase and builds the dependency graph (stores,
// services, relay client) before any subcommand runs. The store is locked
// again and metrics are flushed when the command returns.
package commands
