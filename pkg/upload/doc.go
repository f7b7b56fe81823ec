// Package upload streams bundled artifacts to the release host. The remote
// asset list is the authoritative skip set, so uploading is idempotent:
// re-driving the same artifact list after a crash uploads only what is
// missing. Directory-shaped artifacts (the bare .app) are skipped; the DMG
// carries them.
package upload
