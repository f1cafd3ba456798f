package types

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

type StageKind string

const (
	StageBuild StageKind = "build"
	StageTest  StageKind = "test"
)

var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Pipeline struct {
	Name           string              `yaml:"name"`
	Repository     string              `yaml:"repository"`
	DefaultBranch  string              `yaml:"default_branch"`
	Trigger        Trigger             `yaml:"trigger"`
	TimeoutSeconds int64               `yaml:"timeout_seconds"`
	Credentials    []CredentialBinding `yaml:"credentials"`
	Cache          *CacheSpec          `yaml:"cache"`
	Stages         []Stage             `yaml:"stages"`
	Deploy         *DeploySpec         `yaml:"deploy"`
}

type Stage struct {
	Stage string    `yaml:"stage"`
	Kind  StageKind `yaml:"kind"`
	Steps []Step    `yaml:"steps"`
}

type Step struct {
	Step           string `yaml:"step"`
	Script         string `yaml:"script"`
	TimeoutSeconds int64  `yaml:"timeout_seconds"`
}

// CredentialBinding exposes one credential to the commands of a run.
// Exactly one of Secret and Value is set: Secret names an entry in the
// secret store, Value is a non-secret literal such as a region.
type CredentialBinding struct {
	Env     string `yaml:"env"`
	Secret  string `yaml:"secret"`
	Value   string `yaml:"value"`
	FileKey string `yaml:"file_key"`
}

type CacheSpec struct {
	Name        string   `yaml:"name"`
	Platform    string   `yaml:"platform"`
	Manifests   []string `yaml:"manifests"`
	Paths       []string `yaml:"paths"`
	RestoreKeys []string `yaml:"restore_keys"`
}

type DeploySpec struct {
	Project   string             `yaml:"project"`
	Service   string             `yaml:"service"`
	Token     *CredentialBinding `yaml:"token"`
	Variables []Variable         `yaml:"variables"`
	Commands  *PlatformCommands  `yaml:"commands"`
}

type Variable struct {
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
	Value  string `yaml:"value"`
}

// Binding converts v into the credential binding it is resolved with.
func (v Variable) Binding() CredentialBinding {
	return CredentialBinding{Env: v.Name, Secret: v.Secret, Value: v.Value}
}

// PlatformCommands are the command templates used to drive the deployment
// platform CLI. {project}, {service}, {name} and {value} are substituted.
type PlatformCommands struct {
	Link        string `yaml:"link"`
	Select      string `yaml:"select"`
	SetVariable string `yaml:"set_variable"`
	Publish     string `yaml:"publish"`
}

func (p *Pipeline) IsDeploy() bool {
	return p.Deploy != nil
}

func (p *Pipeline) Branch() string {
	if p.DefaultBranch == "" {
		return "main"
	}
	return p.DefaultBranch
}

func (p *Pipeline) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.Trigger.PullRequest == nil && p.Trigger.ManualDispatch == nil {
		errs = append(errs, errors.New("trigger requires pull_request or manual_dispatch"))
	}
	for _, c := range p.Credentials {
		if err := c.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.IsDeploy() {
		errs = append(errs, p.Deploy.validate()...)
		if len(p.Stages) > 0 {
			errs = append(errs, errors.New("deploy pipelines do not take stages"))
		}
	} else {
		if len(p.Stages) == 0 {
			errs = append(errs, errors.New("at least one stage is required"))
		}
		for _, s := range p.Stages {
			errs = append(errs, s.validate()...)
		}
	}
	if p.Cache != nil {
		if len(p.Cache.Manifests) == 0 {
			errs = append(errs, errors.New("cache requires at least one manifest"))
		}
		if len(p.Cache.Paths) == 0 {
			errs = append(errs, errors.New("cache requires at least one path"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Name, err)
	}
	return nil
}

func (s Stage) validate() []error {
	var errs []error
	switch s.Kind {
	case "", StageBuild, StageTest:
	default:
		errs = append(errs, fmt.Errorf("stage %q: unknown kind %q", s.Stage, s.Kind))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, fmt.Errorf("stage %q has no steps", s.Stage))
	}
	for _, step := range s.Steps {
		if strings.TrimSpace(step.Script) == "" {
			errs = append(errs, fmt.Errorf("stage %q step %q has no script", s.Stage, step.Step))
		}
		if step.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("stage %q step %q has a negative timeout", s.Stage, step.Step))
		}
	}
	return errs
}

func (c CredentialBinding) validate() error {
	if !envNameRe.MatchString(c.Env) {
		return fmt.Errorf("credential env %q is not a valid variable name", c.Env)
	}
	if (c.Secret == "") == (c.Value == "") {
		return fmt.Errorf("credential %s needs exactly one of secret or value", c.Env)
	}
	return nil
}

func (d *DeploySpec) validate() []error {
	var errs []error
	if d.Project == "" {
		errs = append(errs, errors.New("deploy.project is required"))
	}
	if d.Service == "" {
		errs = append(errs, errors.New("deploy.service is required"))
	}
	if d.Token != nil {
		if err := d.Token.validate(); err != nil {
			errs = append(errs, fmt.Errorf("deploy.token: %w", err))
		}
	}
	for _, v := range d.Variables {
		if err := v.Binding().validate(); err != nil {
			errs = append(errs, fmt.Errorf("deploy.variables: %w", err))
		}
	}
	return errs
}

func ParsePipeline(b []byte) (*Pipeline, error) {
	p := new(Pipeline)
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("err unmarshaling pipeline yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func LoadPipeline(path string) (*Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParsePipeline(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadPipelines reads every *.yml and *.yaml pipeline definition in dir.
// Image recipes are skipped; they are loaded by the image package.
func LoadPipelines(dir string) ([]*Pipeline, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	pipelines := make([]*Pipeline, 0, len(entries))
	names := make(map[string]string)
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") || strings.HasPrefix(e.Name(), "image.") {
			continue
		}
		p, err := LoadPipeline(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if other, ok := names[p.Name]; ok {
			return nil, fmt.Errorf("pipeline %q defined in both %s and %s", p.Name, other, e.Name())
		}
		names[p.Name] = e.Name()
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
