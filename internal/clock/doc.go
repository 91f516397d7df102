// Package clock issues the order tokens that decide which write to a key wins.
// A cache picks one of two token sources at configuration time: a per-node
// hybrid counter (Distributed) or a per-key sequence held by the key's
// primary replica (Coordinated). Both produce a Token and all comparison goes
// through Token.Compare.
package clock
