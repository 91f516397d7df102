// Package transport carries replica operations between nodes. Transport is
// the client side used by coordinators; Handler is the server side a node
// implements. Two implementations are provided: an in-process network used
// by tests, which can take nodes down and cut links, and gRPC.
package transport
