// Package config loads the trustcore YAML configuration file, fills in
// defaults and validates it before any component is built.
package config
