// Package graph indexes callback declarations and answers dependency
// questions about them.
//
// It contains the wildcard matcher (Match, MatchID, Overlap), the
// build-time validator, the (id, property) index used to find producers
// and readers of an endpoint, the placeholder domain used to expand
// pattern callbacks before a tree exists, and the endpoint-level cycle
// detector.
//
// Everything here is pure: no tree, no scheduler state. The resolve
// package binds these declarations to a live tree.
package graph
