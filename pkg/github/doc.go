/*
Package github is the release-host collaborator, implemented over the GitHub
REST API.

Every API failure is classified into the retry taxonomy before it leaves the
package: primary and secondary rate limits become retry.RateLimited carrying
the server's wait, 5xx and transport errors become transient, and a 422 with
an already_exists code becomes ErrAlreadyExists for the conflict cleaner.
Unclassified client errors (401, 403 without rate-limit headers, 422
validation) stay fatal.
*/
package github
