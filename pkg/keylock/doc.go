/*
Package keylock provides per-key mutual exclusion for the coordinator.

A mutation (PUT, DELETE, UNLINK, REBALANCE) holds the key for its entire
critical section, including the remote replica fan-out. Readers never lock, so
they may observe a write in progress as a tombstoned record with an empty
hash; that window is intentional.
*/
package keylock
