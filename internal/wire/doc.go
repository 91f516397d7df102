// Package wire encodes entries and node-to-node messages in the protobuf
// wire format using protowire directly, and exposes the encoding as a gRPC
// codec. The same entry encoding is used for values persisted on disk.
//
// Field numbers:
//
//	Token:  mode=1 counter=2 node=3
//	Entry:  key=1 value=2 token=3 origin=4
package wire
