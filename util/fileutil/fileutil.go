// Package fileutil supports the demo binary's session-state persistence
// (cmd/stellatune-audio-demo/state.go): touching a fresh state file on
// first run and atomically rewriting it on every save.
package fileutil

import (
	"os"
	"path/filepath"
)

const statePerm = 0o600

// ReplaceFileContents writes buf to filename by way of a same-directory
// temp file plus rename, so a save that's interrupted mid-write never
// leaves a half-written session-state file behind.
func ReplaceFileContents(filename string, buf []byte) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, ".tmp_"+filepath.Base(filename)+"_")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(statePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filename)
}

// TouchFile creates an empty file at filename, creating parent directories
// as needed, and reports whether it created the file (false means the file
// already existed).
func TouchFile(filename string) (created bool, err error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}

	if _, err := os.Stat(filename); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := f.Chmod(statePerm); err != nil {
		return false, err
	}
	return true, nil
}
