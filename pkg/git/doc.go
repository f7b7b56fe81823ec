// Package git is the typed git collaborator used by the release pipeline.
// The CLI implementation shells out to the git binary with a pinned locale
// so output parsing stays deterministic.
package git
