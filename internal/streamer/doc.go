// Package streamer loads batches of entries into a cache.
//
// A Loader folds the entries of one load call by key, then hands each key's
// surviving entry to the cache's coordinator exactly once, so bulk-loaded
// entries are ordered and replicated like any other put. A Streamer buffers
// entries and runs a load each time its buffer fills.
package streamer
