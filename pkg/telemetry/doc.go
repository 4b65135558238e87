// Package telemetry layers payload integrity and redundant delivery on
// top of a mesh node. Every application payload travels in a checksummed
// frame; critical sends go out three times and a receive-side collector
// folds the copies back into one delivery, reconstructing the payload by
// byte-wise majority vote when copies arrive corrupted.
//
// The Worker runs the protocol as its own task: it owns the node's poll
// loop and exchanges send requests and deliveries with the application
// over bounded channels, so no application code ever touches the node or
// a queue lock directly.
package telemetry
