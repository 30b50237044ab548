// Package rewind implements a time-rewind core for real-time simulations.
// It records a rolling window of world snapshots, lets the application
// scrub backward through them, preview a past moment without destroying
// anything, and commit to it, discarding the recorded future and bringing
// every tracked entity's existence back in line with the chosen moment.
//
// Typical usage looks like:
//   - Create a Controller with a Config and a Clock
//   - Give each participating entity a Behavior bound to the Controller's
//     Registry, and implement CaptureState, RestoreState and Dispose
//   - Call Tick once per simulation step
//   - Drive BeginPreview, Commit and TriggerAutoRewind from input
//   - Optionally archive discarded Frames through an Archiver
//
// Everything in this package must be driven from a single goroutine. Only
// the ArchiveWorker runs in the background, and it only reads immutable
// Frames.
//
// The cmd/rewindsim program runs a headless simulation that exercises the
// API end to end.
package rewind
