// Package storage provides the per-node entry stores every replica mutates.
// A store resolves each incoming entry against what it holds and keeps only
// the winner, so concurrent and repeated applies of the same writes leave a
// replica in the same state regardless of order. MemStore keeps entries in
// sharded B-trees; LevelStore keeps them in goleveldb. The package also
// provides the stable store the distributed clock persists its counter in.
package storage
