/*
Package types defines the core data structures shared across keva packages.

A Record is the per-key metadata held in the index: the ordered replica volume
list, the deletion state, and the MD5 content hash. Records are persisted as a
single opaque string; Encode and DecodeRecord implement that codec. A record in
the hard-deleted state is never persisted — it is the in-memory sentinel for
"no such key".

Config carries the master's immutable startup configuration, optionally loaded
from a YAML file, with Validate enforcing the startup invariants (most notably
that the volume list is at least as large as the replica count).
*/
package types
