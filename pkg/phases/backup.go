package phases

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stagecraft/stagecraft/pkg/engine"
	"github.com/stagecraft/stagecraft/pkg/hostrun"
)

// runHost executes one host command for a phase and converts a non-zero
// exit into an *engine.ExitError carrying the trimmed stderr.
func runHost(ctx context.Context, ec *engine.ExecContext, name string, args ...string) (*hostrun.Result, error) {
	result, err := ec.Host.Run(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		msg := strings.TrimSpace(result.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("%s exited with code %d", name, result.ExitCode)
		} else {
			msg = fmt.Sprintf("%s: %s", name, msg)
		}
		return result, &engine.ExitError{Code: result.ExitCode, Message: msg}
	}
	return result, nil
}

// Backup archives the directories the deployment will touch so an
// operator can recover configuration by hand even without a snapshot.
type Backup struct {
	// Sources are the directories to archive.
	Sources []string
}

// NewBackup returns the backup phase with the default source list.
func NewBackup() *Backup {
	return &Backup{Sources: []string{"/etc"}}
}

// Execute implements engine.Implementation.
func (p *Backup) Execute(ctx context.Context, ec *engine.ExecContext) error {
	if len(p.Sources) == 0 {
		ec.Log.Warn("No backup sources configured, nothing to archive")
		return nil
	}

	archive := filepath.Join(ec.WorkDir, backupsDir,
		fmt.Sprintf("system-config-%s.tar.gz", time.Now().UTC().Format("20060102-150405")))

	args := append([]string{"-czf", archive}, p.Sources...)
	if _, err := runHost(ctx, ec, "tar", args...); err != nil {
		return err
	}
	ec.Log.Infof("System configuration archived to %s", archive)
	return nil
}
