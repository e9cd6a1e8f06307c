/*
Package placement decides where a key's replicas live.

Placement is rendezvous (highest-random-weight) hashing: every volume is
scored with MD5(key||volume) and the lowest-scoring volumes win. Adding or
removing one volume therefore moves only the keys whose winning set actually
changed, which is what keeps bulk rebalance cheap.

All functions are pure; the volume list, replica count and subvolume count are
fixed at startup.
*/
package placement
