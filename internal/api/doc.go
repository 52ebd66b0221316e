// Package api implements the delivery gateway: the authenticated asset
// listing plus manifest and segment serving for published renditions.
package api
