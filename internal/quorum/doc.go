// Package quorum fans an operation out to a set of replicas in parallel and
// collects one result per replica. Writes can return early once a minimum
// number of replicas applied without error; the remaining replicas keep
// running and are reported as pending.
package quorum
