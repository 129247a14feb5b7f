// Package config loads the YAML configuration file.
//
// Values of the form ${VAR_NAME} are expanded from the environment before
// parsing, so secrets and per-machine endpoints stay out of the file.
// Duration fields are written as Go duration strings ("30s", "2m") and
// parsed after unmarshaling. Missing fields fall back to Default values,
// which describe a local backend on port 8000.
package config
