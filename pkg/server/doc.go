/*
Package server implements the master's client-facing HTTP protocol.

The request path is the key. GET and HEAD resolve the key's record and answer
with a 302 pointing at a replica that responds to HEAD; they never lock. PUT,
DELETE, UNLINK and REBALANCE are mutations: each claims the per-key lock for
its whole critical section, including the remote replica fan-out, and answers
409 when the key is already owned.

Writes are two-phase. PUT tombstones the record before fanning the body out
to every target volume and commits the live record (with the MD5 content
hash) only after all replicas accepted the bytes. DELETE tombstones before
touching replicas and removes the key only after every replica delete
succeeded, so a partial failure always leaves a retryable soft-deleted
record.

A query string turns GET into a list operation: ?list and ?unlinked scan the
index under the request-path prefix for live or soft-deleted keys, honouring
&limit=N with a continuation cursor in the JSON response.
*/
package server
