// Package config loads, normalizes, and validates the Videoflix service
// configuration.
//
// It supplies repository defaults, reads an optional TOML file, and applies
// VIDEOFLIX_* environment overrides so deployments can tune the pipeline
// without editing files. The Config type centralizes every knob the server
// needs: the artifact root, the rendition ladder, queue and lease backends,
// retry policy, and the delivery listener.
package config
