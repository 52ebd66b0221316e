// Package pipeline drives the transcoding lifecycle: it enqueues a job when
// an asset appears, runs the bounded worker pool that encodes and publishes
// renditions under a per-asset lease, and reconciles artifacts after
// deletions.
package pipeline
