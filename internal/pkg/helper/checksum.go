package helper

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChecksumFile returns the SHA-256 digest and total size of a file. For
// a directory (mysqlsh dumps into one) the digest covers every regular
// file in lexical walk order.
func ChecksumFile(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}

	hash := sha256.New()
	var size int64

	if info.IsDir() {
		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			n, err := hashFile(hash, p)
			size += n
			return err
		})
		if err != nil {
			return "", 0, err
		}
	} else {
		size, err = hashFile(hash, path)
		if err != nil {
			return "", 0, err
		}
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), size, nil
}

func hashFile(w io.Writer, path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return io.Copy(w, file)
}

// HumanizeSize renders a byte count for notifications.
func HumanizeSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
