package secrets

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
)

const CredentialsFileName = ".simplecd-credentials"

// FileSystem is the part of executor.FileSystem a scope needs.
type FileSystem interface {
	Create(name string) (io.WriteCloser, error)
	MkdirAll(path string, perm os.FileMode) error
	Chmod(name string, mode os.FileMode) error
	RemoveAll(path string) error
}

// Scope holds the configuration a single run's commands see. It replaces
// any ambient configuration: commands get Env passed explicitly and the
// credentials file lives in the run directory, outside the checkout.
type Scope struct {
	fs   FileSystem
	file string
	set  *CredentialSet
	env  []string

	closeOnce sync.Once
	closeErr  error
}

func NewScope(fs FileSystem, runDir string, set *CredentialSet) (*Scope, error) {
	s := &Scope{fs: fs, set: set, env: set.Env()}

	var profile strings.Builder
	for _, c := range set.Credentials() {
		if c.FileKey != "" {
			fmt.Fprintf(&profile, "%s = %s\n", c.FileKey, c.Value)
		}
	}
	if profile.Len() == 0 {
		return s, nil
	}

	if err := fs.MkdirAll(runDir, 0700); err != nil {
		return nil, fmt.Errorf("err creating run directory: %w", err)
	}
	s.file = path.Join(runDir, CredentialsFileName)
	if err := s.writeFile("[default]\n" + profile.String()); err != nil {
		_ = fs.RemoveAll(s.file)
		return nil, err
	}
	s.env = append(s.env,
		"AWS_SHARED_CREDENTIALS_FILE="+s.file,
		"AWS_CONFIG_FILE="+s.file,
	)
	return s, nil
}

func (s *Scope) writeFile(content string) error {
	f, err := s.fs.Create(s.file)
	if err != nil {
		return fmt.Errorf("err creating credentials file: %w", err)
	}
	if err := s.fs.Chmod(s.file, 0600); err != nil {
		f.Close()
		return fmt.Errorf("err restricting credentials file: %w", err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		return fmt.Errorf("err writing credentials file: %w", err)
	}
	return f.Close()
}

// Env returns a copy of the variables commands of this run are given.
func (s *Scope) Env() []string {
	return append([]string(nil), s.env...)
}

func (s *Scope) CredentialsFile() string {
	return s.file
}

func (s *Scope) Credentials() *CredentialSet {
	return s.set
}

// Close removes the credentials file. Only the first call does any work.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		if s.file != "" {
			s.closeErr = s.fs.RemoveAll(s.file)
		}
	})
	return s.closeErr
}
