/*
Package types defines the shared data model for kodegen-release.

The central type is ReleaseRecord, the persisted document describing an
in-flight release: its target version, current phase, checkpoints, remote
host state, and recorded errors. The record is saved by pkg/state between
phases and drives both resume-after-crash and rollback.

Phases form a strict order:

	Validation → CleanupConflicts → VersionBump → CreateDraftRelease →
	Build → Bundle → Upload → PublishRelease → Completed

with Failed and RolledBack as terminal fault states.

PackageType enumerates the installer formats and knows which host OS each
builds on natively; the macOS formats are native-only because containerized
macOS builds are not licensable.
*/
package types
