package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/util"
)

var errNoRepository = errors.New("no repository to check out")

var commitRe = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// repository is the repository a run checks out. A repository pinned in
// the pipeline definition always wins over the one an event names.
func repository(defRepo, eventRepo string) string {
	if defRepo != "" {
		return defRepo
	}
	return eventRepo
}

// checkoutScript clones repo into name and detaches at revision. Branches
// and tags are fetched by name so any ref of the remote works, not only
// its default branch. For pull requests the head ref is fetched first so
// commits pushed to forks are reachable.
func checkoutScript(repo, name, revision string, pull int64) string {
	q := util.ShellQuote
	script := fmt.Sprintf("git clone --quiet -- %s %s", q(repo), q(name))
	git := "git -C " + q(name)
	switch {
	case pull > 0:
		target := "FETCH_HEAD"
		if commitRe.MatchString(revision) {
			target = revision
		}
		script += fmt.Sprintf(" && %s fetch --quiet origin %s && %s checkout --quiet --detach %s",
			git, q(fmt.Sprintf("refs/pull/%d/head", pull)), git, q(target))
	case commitRe.MatchString(revision):
		script += fmt.Sprintf(" && { %s cat-file -e %s 2>/dev/null || %s fetch --quiet origin %s; } && %s checkout --quiet --detach %s",
			git, q(revision+"^{commit}"), git, q(revision), git, q(revision))
	case revision != "":
		script += fmt.Sprintf(" && %s fetch --quiet origin %s && %s checkout --quiet --detach FETCH_HEAD",
			git, q(revision), git)
	}
	return script
}

// checkout clones repo into runDir and checks out revision, returning the
// directory of the working copy. A non-zero pull is the pull request
// number whose head ref is fetched.
func checkout(ctx context.Context, ex executor.Executor, repo, revision string, pull int64, runDir string, out io.Writer) (string, error) {
	if repo == "" {
		return "", errNoRepository
	}
	if err := ex.FS().MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("err creating run directory: %w", err)
	}
	name := util.RepoDirName(repo)
	script := checkoutScript(repo, name, revision, pull)
	if err := ex.Exec(ctx, executor.Command{Dir: runDir, Script: script}, out); err != nil {
		return "", err
	}
	return path.Join(runDir, name), nil
}
