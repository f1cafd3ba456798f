package executor

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
)

type LocalFS struct{}

func (LocalFS) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (LocalFS) Create(name string) (io.WriteCloser, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (LocalFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(name, mode)
}

func (LocalFS) Remove(name string) error {
	return os.Remove(name)
}

func (LocalFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (LocalFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (LocalFS) Walk(root string, fn WalkFunc) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(p), info)
	})
}

func (LocalFS) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		matches[i] = filepath.ToSlash(matches[i])
	}
	return matches, nil
}

// SFTPFS is the FileSystem of a remote agent.
type SFTPFS struct {
	client *sftp.Client
}

func NewSFTPFS(client *sftp.Client) *SFTPFS {
	return &SFTPFS{client: client}
}

func (s *SFTPFS) Open(name string) (io.ReadCloser, error) {
	f, err := s.client.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SFTPFS) Create(name string) (io.WriteCloser, error) {
	f, err := s.client.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SFTPFS) MkdirAll(path string, perm os.FileMode) error {
	if err := s.client.MkdirAll(path); err != nil {
		return err
	}
	return s.client.Chmod(path, perm)
}

func (s *SFTPFS) Chmod(name string, mode os.FileMode) error {
	return s.client.Chmod(name, mode)
}

func (s *SFTPFS) Remove(name string) error {
	return s.client.Remove(name)
}

func (s *SFTPFS) RemoveAll(path string) error {
	return s.client.RemoveAll(path)
}

func (s *SFTPFS) Stat(name string) (os.FileInfo, error) {
	return s.client.Stat(name)
}

func (s *SFTPFS) Walk(root string, fn WalkFunc) error {
	walker := s.client.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		if err := fn(walker.Path(), walker.Stat()); err != nil {
			return err
		}
	}
	return nil
}

func (s *SFTPFS) Glob(pattern string) ([]string, error) {
	return s.client.Glob(pattern)
}
