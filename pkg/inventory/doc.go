// Package inventory tracks running releases machine-wide: one JSON entry
// per process in a shared directory. Sweeping removes entries whose process
// has died or whose temp tree is gone, cleaning up after crashed runs.
package inventory
