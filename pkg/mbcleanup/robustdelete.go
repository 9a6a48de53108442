// Deletes directory trees that may contain read-only or briefly locked files
package mbcleanup

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/gokit/log/logex"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

type Deleter struct {
	Attempts int
	Delay    time.Duration
	Clock    clock.Clock
	logl     *logex.Leveled
	// swappable for tests that need a delete to fail
	removeAll func(path string) error
}

func New(attempts int, delay time.Duration, logger *log.Logger) *Deleter {
	return &Deleter{
		Attempts:  attempts,
		Delay:     delay,
		Clock:     clock.WallClock,
		logl:      logex.Levels(logex.Prefix("cleanup", logger)),
		removeAll: os.RemoveAll,
	}
}

// RobustDelete never fails. A tree that can't be deleted is logged and left behind.
// Returns true if the tree is gone.
func (d *Deleter) RobustDelete(path string) bool {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return true
	}

	makeWritable(path)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return d.removeAll(path)
		},
		NotifyFunc: func(err error, attempt int) {
			d.logl.Info.Printf("try %d to delete %s failed: %v", attempt, path, err)
		},
		Attempts: d.Attempts,
		Delay:    d.Delay,
		Clock:    d.Clock,
	})
	if err != nil {
		d.logl.Error.Printf("giving up deleting %s: %v", path, retry.LastError(err))
		return false
	}

	return true
}

// best-effort. anything we can't fix here resurfaces when deleting
func makeWritable(root string) {
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil
		}

		mode := info.Mode().Perm() | 0200
		if entry.IsDir() {
			mode |= 0500 // also listable, so WalkDir can descend
		}

		if mode != info.Mode().Perm() {
			_ = os.Chmod(path, mode)
		}

		return nil
	})
}

// ContainsData is true if path is a non-empty file, or a directory with at least
// one non-empty file somewhere below it
func ContainsData(path string) bool {
	size, _ := Size(path)
	return size > 0
}

// Size is the file's size, or the sum of sizes of all files below a directory
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		return info.Size(), nil
	}

	total := int64(0)
	err = filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.Type().IsRegular() {
			info, err := entry.Info()
			if err != nil {
				return err
			}

			total += info.Size()
		}

		return nil
	})

	return total, err
}
