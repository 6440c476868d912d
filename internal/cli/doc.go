// Package cli defines the kiln command tree. It translates flags and
// settings into application configuration, and maps failures to process
// exit codes.
package cli
