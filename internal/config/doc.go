// Package config loads the settlement daemon's JSON configuration and fills
// in defaults for anything the operator leaves unset: listen address, store
// and event-bus drivers, identity and reputation backends, bank driver, and
// the initial fee/treasury administration values.
package config
