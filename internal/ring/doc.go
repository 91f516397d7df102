// Package ring places keys on cluster nodes with consistent hashing over
// virtual nodes. A key's preference list is the sequence of distinct nodes
// met walking clockwise from the key's hash; its head is the key's primary.
package ring
