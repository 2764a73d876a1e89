// Package lock keeps two daemons from driving the same profile's chat.
package lock

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

const fileName = "LOCK"

// Holder is the record the owning daemon writes into the lock file.
type Holder struct {
	PID     int       `toml:"pid"`
	Socket  string    `toml:"socket,omitempty"`
	Started time.Time `toml:"started"`
}

// HeldError is returned by Acquire when another daemon owns the profile.
type HeldError struct {
	Holder Holder
	Path   string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile already served by PID %d since %s (%s)",
		e.Holder.PID, e.Holder.Started.Format(time.RFC3339), e.Path)
}

// Lock is an acquired profile lock. The flock lives as long as the file
// handle stays open.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on profileDir and records the caller as
// its holder. socket is advertised to clients and may be empty.
func Acquire(profileDir, socket string) (*Lock, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(profileDir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		h, _ := readHolder(path)
		return nil, &HeldError{Holder: h, Path: path}
	}

	var buf bytes.Buffer
	h := Holder{PID: os.Getpid(), Socket: socket, Started: time.Now().UTC().Truncate(time.Second)}
	if err := toml.NewEncoder(&buf).Encode(h); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("encode lock holder: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt(buf.Bytes(), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the file. Nil and repeated calls are
// no-ops.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Current reports who holds the lock on profileDir. ok is false when the
// profile is not served, including when a crashed daemon left its file
// behind.
func Current(profileDir string) (h Holder, ok bool) {
	path := filepath.Join(profileDir, fileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Holder{}, false
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, false
	}
	h, err = readHolder(path)
	return h, err == nil && h.PID > 0
}

func readHolder(path string) (Holder, error) {
	var h Holder
	_, err := toml.DecodeFile(path, &h)
	return h, err
}
