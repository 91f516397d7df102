// Package node wires one cluster member together: its clock, stores,
// membership, repairer and named caches. A Node serves the replica side of
// the transport and hands out Cache handles for the client side.
package node
