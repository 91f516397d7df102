// Package coordinator runs the write path of a cache. Every put and every
// bulk-loaded entry goes through a Coordinator: it assigns an order token,
// resolves the key's replicas and applies the entry on each of them,
// reporting the result per target on an Outcome.
//
// In DISTRIBUTED mode the token comes from the local clock and all replicas
// are written concurrently. In COORDINATED mode the token comes from the
// key's primary and the primary is written before the backups.
package coordinator
