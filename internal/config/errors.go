package config

import "errors"

// ErrConfigInvalid is the sentinel for spec.md's ConfigInvalid error
// kind: fatal at construction time, never recoverable at runtime.
var ErrConfigInvalid = errors.New("config invalid")
