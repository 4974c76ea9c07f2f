//go:build !linux

// Package genericlinux drives a generic Linux host board. On other operating
// systems the package compiles to nothing and registers no board model, so
// resolution falls through to the simulated boards.
package genericlinux
