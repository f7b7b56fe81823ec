/*
Package state persists the release record across process restarts.

The store keeps one pretty-printed JSON document per working tree
(.cyrup_release_state.json) plus a sibling advisory-lock file. Saves are
atomic: the record is written to a temp file, fsynced, then renamed over the
target, so a crash mid-save leaves either the previous record or the new one.

The lock is an OS advisory lock (flock on Unix, LockFileEx on Windows),
acquired non-blockingly with a 100 ms retry loop. Because the kernel drops
the lock when the holder's descriptor closes, a crashed holder releases it
automatically; no PID liveness check is needed for correctness. The lock
file's content (pid, acquisition time) is diagnostic only.
*/
package state
