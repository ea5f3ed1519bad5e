// Package batch executes a list of heterogeneous operations submitted as one
// request.
//
// Operations run strictly in submission order, one at a time. Each is
// resolved against a handler table populated by collaborators (the memory
// store, for one). A failing or unknown operation is recorded in the result
// and never aborts its siblings; the result always has one entry per
// submitted operation.
package batch
