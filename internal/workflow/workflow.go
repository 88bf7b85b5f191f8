package workflow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Events a workflow may declare under on.events. Schedule runs are fired by
// the cron service and carry the synthetic "schedule" event name.
const (
	EventPush             = "push"
	EventPullRequest      = "pull_request"
	EventWorkflowDispatch = "workflow_dispatch"
	EventSchedule         = "schedule"
)

// KnownEvent reports whether name is a declarable trigger event.
func KnownEvent(name string) bool {
	switch name {
	case EventPush, EventPullRequest, EventWorkflowDispatch:
		return true
	}
	return false
}

// Workflow is a parsed workflow definition: what triggers it, the env it
// exports, and the jobs it runs.
type Workflow struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs Jobs              `yaml:"jobs"`
}

// TriggeredBy reports whether the workflow declares the given event.
func (w *Workflow) TriggeredBy(event string) bool {
	if event == EventSchedule {
		return len(w.On.Schedules) > 0
	}
	for _, e := range w.On.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Triggers declares when a workflow runs: a set of events and/or a set of
// cron schedules.
type Triggers struct {
	Events    []string `yaml:"events"`
	Schedules []string `yaml:"schedules"`
}

// UnmarshalYAML accepts both the long form (events/schedules mapping) and the
// shorthand sequence form: `on: [push, pull_request]`.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		events, err := stringList(value)
		if err != nil {
			return fmt.Errorf("on: %w", err)
		}
		t.Events = events
		return nil
	case yaml.MappingNode:
		for i := 0; i < len(value.Content)-1; i += 2 {
			key, val := value.Content[i], value.Content[i+1]
			switch key.Value {
			case "events":
				events, err := stringList(val)
				if err != nil {
					return fmt.Errorf("on.events: %w", err)
				}
				t.Events = events
			case "schedules":
				schedules, err := stringList(val)
				if err != nil {
					return fmt.Errorf("on.schedules: %w", err)
				}
				t.Schedules = schedules
			default:
				return fmt.Errorf("on: unknown key %q", key.Value)
			}
		}
		return nil
	}
	return fmt.Errorf("on: expected sequence or mapping")
}

// Jobs preserves the declaration order of the jobs mapping.
type Jobs []Job

// UnmarshalYAML decodes the jobs mapping, keeping document order and
// rejecting duplicate job names.
func (js *Jobs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs: expected mapping")
	}
	seen := make(map[string]bool)
	for i := 0; i < len(value.Content)-1; i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("jobs: duplicate job %q", key.Value)
		}
		seen[key.Value] = true

		var job Job
		if err := decodeStrict(val, &job); err != nil {
			return fmt.Errorf("jobs.%s: %w", key.Value, err)
		}
		job.Name = key.Value
		*js = append(*js, job)
	}
	return nil
}

// Job is a named unit of execution. Its strategy may fan it out into one
// instance per matrix combination.
type Job struct {
	Name           string            `yaml:"-"`
	RunsOn         string            `yaml:"runs-on"`
	Strategy       Strategy          `yaml:"strategy"`
	Env            map[string]string `yaml:"env"`
	TimeoutMinutes int               `yaml:"timeout-minutes"`
	Steps          []Step            `yaml:"steps"`
}

// Strategy controls matrix fan-out and failure policy for a job.
type Strategy struct {
	Matrix      Matrix `yaml:"matrix"`
	FailFast    *bool  `yaml:"fail-fast"`
	MaxParallel int    `yaml:"max-parallel"`
}

// FailFastEnabled reports the fail-fast setting; unset means disabled, every
// combination runs to completion and reports independently.
func (s Strategy) FailFastEnabled() bool {
	return s.FailFast != nil && *s.FailFast
}

// Step is a single shell command inside a job.
type Step struct {
	Name             string            `yaml:"name"`
	Run              string            `yaml:"run"`
	Shell            string            `yaml:"shell"`
	Env              map[string]string `yaml:"env"`
	WorkingDirectory string            `yaml:"working-directory"`
	ContinueOnError  bool              `yaml:"continue-on-error"`
	TimeoutMinutes   int               `yaml:"timeout-minutes"`
}

// DisplayName returns the step name, falling back to the first line of the
// run command for unnamed steps.
func (st Step) DisplayName() string {
	if st.Name != "" {
		return st.Name
	}
	line := st.Run
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// stringList decodes a scalar or a sequence of scalars into a string slice.
// Raw node values are used so a bare 3.10 stays "3.10" instead of collapsing
// to a float.
func stringList(n *yaml.Node) ([]string, error) {
	if n.Kind == yaml.ScalarNode {
		return []string{n.Value}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected scalar or sequence")
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("expected scalar list item")
		}
		out = append(out, item.Value)
	}
	return out, nil
}

// stringMap decodes a mapping of scalars into a string map, preserving raw
// scalar values.
func stringMap(n *yaml.Node) (map[string]string, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected mapping")
	}
	out := make(map[string]string, len(n.Content)/2)
	for i := 0; i < len(n.Content)-1; i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("key %q: expected scalar value", key.Value)
		}
		out[key.Value] = val.Value
	}
	return out, nil
}
