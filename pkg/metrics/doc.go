/*
Package metrics defines the Prometheus collectors exported by the master.

Collectors are package-level variables registered once via Register. The
coordinator counts requests and latencies, the coordinator and rebalance count
per-replica operations, and the maintenance engines report their progress.
The handler is served on a separate listener so scrapes never contend with
the client protocol.
*/
package metrics
