// Package repair brings lagging replicas up to date. Writes that could not
// reach a replica are kept as hints and replayed once the replica is alive
// again; reads that find a stale replica push the winning entry to it.
// Both paths only ever re-send entries, so a replica that already holds the
// entry, or a newer one, is left unchanged.
package repair
