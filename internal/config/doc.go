// Package config holds the per-vhost configuration struct tree spec.md §6
// names. Parsing config-file syntax is out of scope (spec.md §1): these
// structs are populated by the process's caller from flags/env rather
// than a config-file parser. Each struct carries a withDefaults method so
// a caller building one field at a time never has to know every default.
package config
