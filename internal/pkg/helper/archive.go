package helper

import (
	"context"
	"fmt"
	"os/exec"
)

// ZipFolder zips a folder, encrypting with a passphrase when one is set.
func ZipFolder(ctx context.Context, password, srcDir, dstPath string) error {
	args := []string{"-r", "-j"}
	if password != "" {
		args = append([]string{"-P", password}, args...)
	}
	args = append(args, dstPath, srcDir)

	cmd := exec.CommandContext(ctx, "zip", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("zip command failed: %w, output: %s", err, string(output))
	}
	return nil
}

// Unzip extracts an archive into a directory, decrypting with a
// passphrase when one is set.
func Unzip(ctx context.Context, password, srcPath, dstDir string) error {
	args := []string{"-o"}
	if password != "" {
		args = append(args, "-P", password)
	}
	args = append(args, srcPath, "-d", dstDir)

	cmd := exec.CommandContext(ctx, "unzip", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("unzip command failed: %w, output: %s", err, string(output))
	}
	return nil
}
