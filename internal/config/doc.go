// Package config provides configuration loading and validation for the
// voice capture service. It handles YAML-based configuration with struct
// validation and duration accessors for all timing parameters.
package config
