// Package config loads the parley TOML configuration.
//
// A missing file means defaults. Unknown keys are rejected. A named profile
// (see Profiles) overrides the protocol and storage tunables it defines,
// whether it is set in the file or applied by the caller.
package config
