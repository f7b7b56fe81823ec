// Package retry implements the recoverable-vs-fatal error taxonomy, the
// per-class retry budgets (overridable via KODEGEN_RETRY_* and clamped), and
// exponential backoff capped at one hour. Rate-limited errors wait exactly
// the server-specified interval instead.
package retry
