// Package replication resolves a key to the nodes that hold it: a primary
// followed by its backups.
package replication
