// Package config loads repovec settings from ~/.repovec/config.toml and the
// environment, and converts them into the option structs of each component.
package config
