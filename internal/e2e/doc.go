// Package e2e wires the tool server, the run service and the orchestrator
// together over loopback HTTP. It holds tests only.
package e2e
