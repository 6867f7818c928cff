// Package soak runs a command many times and reports how often it fails.
package soak

// Version is the soak release version.
const Version = "0.1.0"
