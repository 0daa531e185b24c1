// Package bids models the dataset tree: canonical recording names, the
// directory layout, and the transient Dataset/Subject/Session/Recording view
// enumerated from disk at the start of each operation.
package bids
