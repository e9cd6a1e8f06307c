/*
Package rebuild reconstructs the index from the volume servers after the
index was lost or corrupted.

The walk mirrors the on-volume layout: detect svNN subvolume directories at
each volume root, then descend two levels of byte directories down to the
leaf files. Each leaf is merged into the index under the key lock, union-ing
the discovered volume into any existing record with target-placement volumes
ordered first.

Rebuild recovers placement only. Content hashes cannot be read back from the
volumes, so rebuilt records carry an empty hash until re-verified.
*/
package rebuild
