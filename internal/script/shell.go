package script

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/davexpro/recoverd/internal/conn"
	"github.com/davexpro/recoverd/internal/model"
)

// Dumper creates and restores backup artifacts. Implemented by the
// mysqlsh shell below; faked in tests.
type Dumper interface {
	Dump(ctx context.Context, info *conn.Info, database string, kind model.BackupKind, outputPath string) error
	Restore(ctx context.Context, info *conn.Info, location, database string, tables []string) error
	RestoreToTime(ctx context.Context, info *conn.Info, database string, target *model.PointInTimeTarget) error
}

// ShellDumper drives mysqlsh for dump and load operations.
type ShellDumper struct {
	Threads int
}

func NewShellDumper(threads int) *ShellDumper {
	if threads <= 0 {
		threads = 4
	}
	return &ShellDumper{Threads: threads}
}

func (d *ShellDumper) Dump(ctx context.Context, info *conn.Info, database string, kind model.BackupKind, outputPath string) error {
	opts := []string{fmt.Sprintf("threads: %d", d.Threads), "compression: 'zstd'"}
	switch kind {
	case model.BackupSchema:
		opts = append(opts, "ddlOnly: true")
	case model.BackupData:
		opts = append(opts, "dataOnly: true")
	}
	js := fmt.Sprintf("util.dumpSchemas(['%s'], '%s', {%s})", database, outputPath, strings.Join(opts, ", "))
	return d.runJS(ctx, info, js)
}

func (d *ShellDumper) Restore(ctx context.Context, info *conn.Info, location, database string, tables []string) error {
	opts := []string{fmt.Sprintf("threads: %d", d.Threads), "ignoreVersion: true"}
	if len(tables) > 0 {
		var entries []string
		for _, t := range tables {
			entries = append(entries, fmt.Sprintf("'%s.%s'", database, t))
		}
		opts = append(opts, fmt.Sprintf("includeTables: [%s]", strings.Join(entries, ", ")))
	}
	js := fmt.Sprintf("util.loadDump('%s', {%s})", location, strings.Join(opts, ", "))
	return d.runJS(ctx, info, js)
}

// RestoreToTime replays the binary log up to the target coordinate.
func (d *ShellDumper) RestoreToTime(ctx context.Context, info *conn.Info, database string, target *model.PointInTimeTarget) error {
	args := []string{
		"--read-from-remote-server",
		fmt.Sprintf("--host=%s", info.Host),
		fmt.Sprintf("--port=%d", info.Port),
		fmt.Sprintf("--user=%s", info.User),
		fmt.Sprintf("--password=%s", info.Password),
		fmt.Sprintf("--database=%s", database),
		fmt.Sprintf("--stop-datetime=%s", target.Timestamp.UTC().Format("2006-01-02 15:04:05")),
	}
	if target.LogSequence != "" {
		args = append(args, fmt.Sprintf("--stop-position=%s", target.LogSequence))
	}

	cmd := exec.CommandContext(ctx, "mysqlbinlog", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mysqlbinlog replay failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (d *ShellDumper) runJS(ctx context.Context, info *conn.Info, js string) error {
	args := []string{
		fmt.Sprintf("--user=%s", info.User),
		fmt.Sprintf("--password=%s", info.Password),
		fmt.Sprintf("--host=%s", info.Host),
		fmt.Sprintf("--port=%d", info.Port),
		"--js",
		"-e",
		js,
	}

	cmd := exec.CommandContext(ctx, "mysqlsh", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mysqlsh failed: %w, output: %s", err, string(output))
	}
	return nil
}
