package mbexec

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/perjahn/multibackup/pkg/redact"
)

// PrepareToolLog returns <dir>/<name>_<yyyyMMdd>.log for a tool to write to,
// with a stale log of the same name removed
func PrepareToolLog(dir string, name string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name+"_"+now.UTC().Format("20060102")+".log")

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", err
	}

	return path, nil
}

// ConsumeToolLog reads a tool's log, drops noise lines, truncates it to a loggable
// size and deletes the file. A missing log is "".
func ConsumeToolLog(path string, noise []string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	lines := []string{}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if !isNoise(scanner.Text(), noise) {
			lines = append(lines, scanner.Text())
		}
	}
	scanErr := scanner.Err()

	file.Close()

	if err := os.Remove(path); err != nil {
		return "", err
	}

	if scanErr != nil {
		return "", scanErr
	}

	return redact.Truncate(lines), nil
}

func isNoise(line string, noise []string) bool {
	for _, pattern := range noise {
		if strings.Contains(line, pattern) {
			return true
		}
	}
	return false
}
