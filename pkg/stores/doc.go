// Package stores provides stagecraft's persistence implementations: the
// JSON completion-state file and rollback record (both atomic
// replace-on-write), and the SQLite run journal used by the history
// command.
//
// The state file and rollback record are the load-bearing artifacts: the
// orchestrator cannot resume or revert without them. The journal is
// best-effort history; a journal failure never stops a deployment.
package stores
