// Package config holds the settings of torswitch: the TorProxy section of the
// YAML configuration file, command line overrides, and their validation.
package config
