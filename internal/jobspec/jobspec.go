// Package jobspec loads YAML job files: resource limits, named
// capabilities, actor bindings and the tasks to run.
package jobspec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/resources"
	"github.com/dohr-michael/capq/internal/secrets"
	"github.com/dohr-michael/capq/internal/tasks"
)

// Job is the decoded form of a job file.
type Job struct {
	Limits       map[resources.Kind]int64            `yaml:"limits"`
	Capabilities map[string]map[resources.Kind]int64 `yaml:"capabilities"`
	Actors       []ActorSpec                         `yaml:"actors"`
	Tasks        []TaskSpec                          `yaml:"tasks"`
}

// ActorSpec binds one actor kind to an exact capability set.
type ActorSpec struct {
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"`
	Params       actors.Params `yaml:"params"`
	Capabilities []string      `yaml:"capabilities"`
}

// TaskSpec describes a task, optionally repeated.
type TaskSpec struct {
	Argument     any               `yaml:"argument"`
	Requires     []string          `yaml:"requires"`
	AllowedFails int               `yaml:"allowed_fails"`
	Repeat       int               `yaml:"repeat"`
	Labels       map[string]string `yaml:"labels"`
}

// Plan is a validated job ready for a scheduler.
type Plan struct {
	Registry     *actors.Registry
	Limits       resources.Quantities
	Capabilities map[string]resources.Capability
	Tasks        []*tasks.Task
}

// Load reads and parses the job file at path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

// Parse decodes a job document. Unknown fields are rejected.
func Parse(data []byte) (*Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	return &job, nil
}

// CapabilityIndex returns the named capabilities of the job.
func (j *Job) CapabilityIndex() map[string]resources.Capability {
	out := make(map[string]resources.Capability, len(j.Capabilities))
	for name, reqs := range j.Capabilities {
		out[name] = resources.NewCapability(name, resources.Quantities(reqs))
	}
	return out
}

// Validate reports every structural problem in the job at once.
func (j *Job) Validate() error {
	var errs []error

	if neg := resources.Quantities(j.Limits).Negative(); len(neg) > 0 {
		errs = append(errs, fmt.Errorf("limits: negative value for %v", neg))
	}
	caps := j.CapabilityIndex()
	for _, name := range sortedKeys(caps) {
		if err := caps[name].Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	bound := make(map[string]string)
	for i, a := range j.Actors {
		where := fmt.Sprintf("actors[%d]", i)
		if a.Name != "" {
			where = fmt.Sprintf("actor %q", a.Name)
		}
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		}
		if a.Kind == "" {
			errs = append(errs, fmt.Errorf("%s: kind is required", where))
		}
		set, err := resolve(caps, a.Capabilities)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			continue
		}
		if other, dup := bound[set.Key()]; dup {
			errs = append(errs, fmt.Errorf("%s: capability set %s already bound by %s", where, set, other))
			continue
		}
		bound[set.Key()] = where
	}

	for i, t := range j.Tasks {
		where := fmt.Sprintf("tasks[%d]", i)
		if t.AllowedFails < 0 || t.Repeat < 0 {
			errs = append(errs, fmt.Errorf("%s: allowed_fails and repeat must not be negative", where))
		}
		set, err := resolve(caps, t.Requires)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			continue
		}
		if _, ok := bound[set.Key()]; !ok {
			errs = append(errs, fmt.Errorf("%s: no actor bound to %s", where, set))
		}
	}
	return errors.Join(errs...)
}

// Sealed reports whether any actor param holds an encrypted value.
func (j *Job) Sealed() bool {
	for _, a := range j.Actors {
		if secrets.Contains(map[string]any(a.Params)) {
			return true
		}
	}
	return false
}

// Unseal decrypts every encrypted actor param with identity.
func (j *Job) Unseal(identity age.Identity) error {
	for i, a := range j.Actors {
		if !secrets.Contains(map[string]any(a.Params)) {
			continue
		}
		plain, err := secrets.Reveal(map[string]any(a.Params), identity)
		if err != nil {
			return fmt.Errorf("actor %q params: %w", a.Name, err)
		}
		j.Actors[i].Params = actors.Params(plain.(map[string]any))
	}
	return nil
}

// Build validates the job and resolves actor kinds through catalog.
func (j *Job) Build(catalog *actors.Catalog) (*Plan, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	caps := j.CapabilityIndex()

	reg := actors.NewRegistry()
	for _, a := range j.Actors {
		factory, err := catalog.Build(a.Kind, a.Params)
		if err != nil {
			return nil, fmt.Errorf("actor %q: %w", a.Name, err)
		}
		set, _ := resolve(caps, a.Capabilities)
		if err := reg.Bind(set, a.Name, factory); err != nil {
			return nil, err
		}
	}

	ts, err := expandTasks(caps, j.Tasks)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Registry:     reg,
		Limits:       resources.Quantities(j.Limits).Clone(),
		Capabilities: caps,
		Tasks:        ts,
	}, nil
}

// Producer emits the plan's tasks as a single batch.
func (p *Plan) Producer() tasks.Producer {
	return tasks.Batches(p.Tasks)
}

// Unreachable lists bound sets whose summed requirements exceed the limits.
func (p *Plan) Unreachable() []string {
	var out []string
	for _, b := range p.Registry.Bindings() {
		cost := b.Set.Requirements()
		if over := cost.Exceeds(p.Limits); len(over) > 0 {
			out = append(out, fmt.Sprintf("%s (%s) needs %s, over on %v", b.Name, b.Set, cost, over))
		}
	}
	return out
}

func expandTasks(caps map[string]resources.Capability, specs []TaskSpec) ([]*tasks.Task, error) {
	var out []*tasks.Task
	for i, s := range specs {
		set, err := resolve(caps, s.Requires)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		base := tasks.New(s.Argument, set.Capabilities()...).WithAllowedFails(s.AllowedFails)
		for k, v := range s.Labels {
			base.WithLabel(k, v)
		}
		out = append(out, base)
		for range s.Repeat - 1 {
			out = append(out, base.Clone())
		}
	}
	return out, nil
}

func resolve(caps map[string]resources.Capability, names []string) (resources.CapabilitySet, error) {
	if len(names) == 0 {
		return resources.CapabilitySet{}, errors.New("no capabilities listed")
	}
	list := make([]resources.Capability, 0, len(names))
	var unknown []string
	for _, n := range names {
		c, ok := caps[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		list = append(list, c)
	}
	if len(unknown) > 0 {
		return resources.CapabilitySet{}, fmt.Errorf("unknown capabilities %v", unknown)
	}
	return resources.NewCapabilitySet(list...), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
