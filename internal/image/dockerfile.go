package image

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/instructions"
	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

func installCommand(base string, packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	if strings.Contains(base, "alpine") {
		return "RUN apk add --no-cache " + strings.Join(packages, " ")
	}
	return "RUN apt-get update \\\n" +
		" && apt-get install -y --no-install-recommends " + strings.Join(packages, " ") + " \\\n" +
		" && rm -rf /var/lib/apt/lists/*"
}

// Dockerfile renders the recipe. The runtime stage only installs its own
// packages and copies the single artifact out of the builder stage.
func (r *Recipe) Dockerfile() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s AS %s\n", r.Builder.Base, builderStage)
	if install := installCommand(r.Builder.Base, r.Builder.Packages); install != "" {
		fmt.Fprintf(&b, "%s\n", install)
	}
	fmt.Fprintf(&b, "WORKDIR %s\n", r.workdir())
	source := r.Builder.Source
	if source == "" {
		source = "."
	}
	fmt.Fprintf(&b, "COPY %s .\n", source)
	for _, cmd := range r.Builder.Build {
		fmt.Fprintf(&b, "RUN %s\n", cmd)
	}

	fmt.Fprintf(&b, "\nFROM %s\n", r.Runtime.Base)
	if install := installCommand(r.Runtime.Base, r.Runtime.Packages); install != "" {
		fmt.Fprintf(&b, "%s\n", install)
	}
	fmt.Fprintf(&b, "COPY --from=%s %s %s\n", builderStage, r.Builder.Artifact, r.Runtime.ArtifactPath)
	entrypoint, _ := json.Marshal(r.entrypoint())
	fmt.Fprintf(&b, "ENTRYPOINT %s\n", entrypoint)
	return b.String()
}

// Stage is one FROM section of a Dockerfile.
type Stage struct {
	Base     string
	Name     string
	Platform string
	Copies   []Copy
	Packages []string
}

type Copy struct {
	From string
	Src  []string
	Dst  string
	// Add is set for ADD instructions.
	Add bool
}

// Inspect parses the stages of a Dockerfile with the BuildKit frontend
// parser and collects the COPY, ADD and RUN package installs of each.
func Inspect(dockerfile string) ([]Stage, error) {
	res, err := parser.Parse(strings.NewReader(dockerfile))
	if err != nil {
		return nil, fmt.Errorf("err parsing dockerfile: %w", err)
	}
	parsed, _, err := instructions.Parse(res.AST, nil)
	if err != nil {
		return nil, fmt.Errorf("err parsing dockerfile instructions: %w", err)
	}
	if len(parsed) == 0 {
		return nil, errors.New("no FROM instruction")
	}

	stages := make([]Stage, 0, len(parsed))
	for _, ps := range parsed {
		s := Stage{Base: ps.BaseName, Name: ps.Name, Platform: ps.Platform}
		for _, cmd := range ps.Commands {
			switch c := cmd.(type) {
			case *instructions.CopyCommand:
				if len(c.SourcePaths) > 0 {
					s.Copies = append(s.Copies, Copy{From: c.From, Src: c.SourcePaths, Dst: c.DestPath})
				}
			case *instructions.AddCommand:
				if len(c.SourcePaths) > 0 {
					s.Copies = append(s.Copies, Copy{Src: c.SourcePaths, Dst: c.DestPath, Add: true})
				}
			case *instructions.RunCommand:
				s.Packages = append(s.Packages, runPackages(c.ShellDependantCmdLine)...)
			}
		}
		stages = append(stages, s)
	}
	return stages, nil
}

var installVerbs = map[string]string{
	"apt-get":  "install",
	"apt":      "install",
	"apk":      "add",
	"yum":      "install",
	"dnf":      "install",
	"microdnf": "install",
}

var shellOperators = strings.NewReplacer(
	"\\\n", " ",
	"&&", " && ",
	"||", " || ",
	"|", " | ",
	";", " ; ",
	"\n", " ; ",
)

func shellWords(script string) []string {
	words := strings.Fields(shellOperators.Replace(script))
	for i, w := range words {
		words[i] = strings.Trim(w, `"'`)
	}
	return words
}

func isShell(name string) bool {
	switch path.Base(name) {
	case "sh", "bash", "ash", "dash":
		return true
	}
	return false
}

// runPackages returns the packages a RUN instruction installs, in shell
// form, exec form and heredoc scripts alike.
func runPackages(cl instructions.ShellDependantCmdLine) []string {
	var pkgs []string
	argv := []string(cl.CmdLine)
	switch {
	case cl.PrependShell:
		pkgs = append(pkgs, installedPackages(shellWords(strings.Join(argv, " ")))...)
	case len(argv) >= 3 && isShell(argv[0]) && argv[1] == "-c":
		pkgs = append(pkgs, installedPackages(shellWords(argv[2]))...)
	default:
		pkgs = append(pkgs, installedPackages(argv)...)
	}
	for _, f := range cl.Files {
		pkgs = append(pkgs, installedPackages(shellWords(f.Data))...)
	}
	return pkgs
}

// installedPackages picks the package arguments of install commands
// (apt-get install, apk add and the like) out of a word list.
func installedPackages(words []string) []string {
	var pkgs []string
	manager, installing := "", false
	for _, w := range words {
		switch {
		case w == "&&" || w == "||" || w == ";" || w == "|":
			manager, installing = "", false
		case installing:
			if !strings.HasPrefix(w, "-") {
				pkgs = append(pkgs, w)
			}
		case manager != "":
			if strings.HasPrefix(w, "-") {
				continue
			}
			installing = w == installVerbs[manager]
			if !installing {
				manager = ""
			}
		default:
			if _, ok := installVerbs[path.Base(w)]; ok {
				manager = path.Base(w)
			}
		}
	}
	return pkgs
}

// CheckIsolation verifies that the final stage of a Dockerfile receives
// exactly one file from an earlier stage, nothing from the build context
// and no toolchain packages.
func CheckIsolation(dockerfile string) error {
	stages, err := Inspect(dockerfile)
	if err != nil {
		return err
	}
	if len(stages) < 2 {
		return fmt.Errorf("expected a builder and a runtime stage, got %d stage(s)", len(stages))
	}
	last := len(stages) - 1
	runtime := stages[last]
	var fromBuilder int
	for _, c := range runtime.Copies {
		if c.Add || c.From == "" {
			return fmt.Errorf("runtime stage copies %v from the build context", c.Src)
		}
		if !isStageRef(stages[:last], c.From) {
			return fmt.Errorf("runtime stage copies from %q, which is not a build stage", c.From)
		}
		if len(c.Src) != 1 {
			return fmt.Errorf("runtime stage copies %d paths in one instruction", len(c.Src))
		}
		fromBuilder++
	}
	if fromBuilder != 1 {
		return fmt.Errorf("runtime stage must copy exactly one artifact, copies %d", fromBuilder)
	}
	for _, pkg := range runtime.Packages {
		if IsToolchainPackage(pkg) {
			return fmt.Errorf("%w: %s", ErrToolchainInRuntime, pkg)
		}
	}
	return nil
}

// isStageRef reports whether ref names one of stages, by name or index.
func isStageRef(stages []Stage, ref string) bool {
	if i, err := strconv.Atoi(ref); err == nil {
		return i >= 0 && i < len(stages)
	}
	for _, s := range stages {
		if s.Name != "" && strings.EqualFold(s.Name, ref) {
			return true
		}
	}
	return false
}
