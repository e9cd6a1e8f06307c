/*
Package rebalance reconciles where a key's replicas are with where its
placement says they should be, typically after the volume list changed.

For one key: find which recorded replicas still answer, copy the value to
every target volume that lacks it, repoint the record at the target set, then
delete copies on volumes no longer in it. A failed copy aborts with the index
untouched; a failed cleanup delete only leaves an orphan file behind.

Bulk mode scans the index and runs the same reconcile over every drifted live
key with a bounded worker pool, skipping keys currently locked by a client
mutation.
*/
package rebalance
