// Package app contains the core application logic. It wires loaders, the
// brick registry, the validator, the graph builder and the executor into
// one lifecycle, decoupled from any specific entrypoint like a CLI.
package app
