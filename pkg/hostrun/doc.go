// Package hostrun provides the boundary between phase implementations and the
// local host. All command execution goes through the Runner interface so that
// phase logic stays testable without touching the machine, and so dry-run
// paths never fork a process by accident.
//
// LocalRunner is the production implementation backed by os/exec.
// CommandSnapshotter builds on a Runner to capture and revert system
// snapshots via configured external tooling.
package hostrun
