/*
Package docker dispatches platform bundlers into a resource-limited container
when the host OS cannot build the target natively.

The run contract is strict: all capabilities dropped, no-new-privileges set,
the workspace mounted read-only, and a per-build isolated target directory
mounted read-write. Artifacts move into the shared target directory only
after a successful run, so concurrent builds never interfere.

Out-of-memory kills are detected through three independent signals — exit
code 137, known stderr phrases, and the runtime's OOMKilled inspect field —
and surface as a fatal OOMError naming the configured limits, the host's
total memory, and the flag to raise.

The builder image is rebuilt when it is missing, older than the staging
Dockerfile, older than seven days, or when --rebuild-image forces it.
*/
package docker
