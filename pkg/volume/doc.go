/*
Package volume is the HTTP client for the dumb WebDAV-like volume servers.

A volume exposes HEAD/GET/PUT/DELETE on digest-derived paths plus JSON
directory listings on URLs ending in a slash. The client maps each operation
to its expected status codes and reports everything else as ErrWrongStatus,
so the coordinator only has to ask "did it succeed".
*/
package volume
