/*
Package index wraps the embedded BoltDB store holding the key→record map.

BoltDB keeps keys in byte order and flushes on every write transaction, which
gives the master a durable, ordered index with no extra machinery: Scan drives
the list queries and bulk rebalance, Reset clears everything ahead of a
rebuild. No transaction API is exposed — per-key serialization is enforced
upstream by the key lock table.
*/
package index
