/*
Package release is the phase-sequenced release orchestrator.

A release walks a strict phase order, persisting the record between phases:

	Validation → CleanupConflicts → VersionBump → CreateDraftRelease →
	Build → Bundle → Upload → PublishRelease → Completed

Every phase action is idempotent: it first checks whether its side effect is
already reflected in the record (checkpoints, host state, the manifest
itself) and becomes a noop when it is. That one property gives both
crash-resume — a restarted run replays from current_phase and skips whatever
already happened — and safe retries.

On an unrecoverable error the orchestrator runs the rollback composition in
reverse-chronological order: draft release, remote tag, release branches,
local tag, and finally a checkout back to the pre-release branch. Rollback
steps degrade to warnings rather than failing, so one stuck deletion never
strands the rest.
*/
package release
