package util

import (
	"os"
	"path"
	"strings"
)

func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	return false, err
}

// RepoDirName returns the directory name git clone uses for repository.
func RepoDirName(repository string) string {
	repository = strings.TrimRight(repository, "/")
	name := repository[strings.LastIndexAny(repository, "/:")+1:]
	name = strings.TrimSuffix(name, ".git")
	if name == "" || name == "." || name == ".." {
		return "repo"
	}
	return path.Clean(name)
}
