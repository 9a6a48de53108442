package mbexec

import (
	"os"
	"sync"
)

// the working directory is process-wide state
var workdirMu sync.Mutex

// InDir runs fn with the working directory set to dir. The previous working
// directory is restored on every way out of fn, including errors and panics.
func InDir(dir string, fn func() error) (err error) {
	workdirMu.Lock()
	defer workdirMu.Unlock()

	previous, err := os.Getwd()
	if err != nil {
		return err
	}

	if err := os.Chdir(dir); err != nil {
		return err
	}
	defer func() {
		if restoreErr := os.Chdir(previous); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()

	return fn()
}
