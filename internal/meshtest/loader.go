package meshtest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds a convergence wait when the scenario does not
// set one.
const DefaultTimeout = 2 * time.Second

// Parse parses a scenario from YAML bytes. Unknown keys are rejected
// so typos in scenario files fail loudly.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load loads a scenario from a file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	sc, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{
			File:    path,
			Message: err.Error(),
		}
	}

	return sc, nil
}

// LoadDirectory loads all scenarios from a directory.
// Only files with .yaml or .yml extensions are loaded.
func LoadDirectory(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{
			File:    dir,
			Message: "failed to read directory",
			Cause:   err,
		}
	}

	var scenarios []*Scenario
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		sc, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}

	return scenarios, nil
}

// timeout returns the scenario's convergence budget.
func (s *Scenario) timeout() time.Duration {
	if s.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

// validate checks scenario consistency after parsing.
func (s *Scenario) validate() error {
	if s.Name == "" {
		return &LoadError{Message: "scenario name is required"}
	}
	if len(s.Nodes) == 0 {
		return &LoadError{Message: "scenario must have at least one node"}
	}

	ids := make(map[uint8]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == 0 || n.ID == 0xFF {
			return &LoadError{Message: fmt.Sprintf("node id %d is reserved", n.ID)}
		}
		if ids[n.ID] {
			return &LoadError{Message: fmt.Sprintf("duplicate node id %d", n.ID)}
		}
		if n.Name == "" {
			return &LoadError{Message: fmt.Sprintf("node %d has no name", n.ID)}
		}
		ids[n.ID] = true
	}

	for _, l := range s.BlockedLinks {
		if l.From == l.To {
			return &LoadError{Message: fmt.Sprintf("blocked link %d-%d is a self link", l.From, l.To)}
		}
		if !ids[l.From] || !ids[l.To] {
			return &LoadError{Message: fmt.Sprintf("blocked link %d-%d names an unknown node", l.From, l.To)}
		}
	}

	for _, r := range s.ExpectRoutes {
		if !ids[r.Node] || !ids[r.To] {
			return &LoadError{Message: fmt.Sprintf("route expectation %d->%d names an unknown node", r.Node, r.To)}
		}
		if r.Node == r.To {
			return &LoadError{Message: fmt.Sprintf("route expectation %d->%d is a self route", r.Node, r.To)}
		}
	}

	for _, snd := range s.Sends {
		if !ids[snd.From] || !ids[snd.To] {
			return &LoadError{Message: fmt.Sprintf("send %d->%d names an unknown node", snd.From, snd.To)}
		}
		if snd.Payload == "" {
			return &LoadError{Message: fmt.Sprintf("send %d->%d has an empty payload", snd.From, snd.To)}
		}
	}

	for _, nr := range s.ExpectNoRoute {
		if !ids[nr.Node] {
			return &LoadError{Message: fmt.Sprintf("no-route expectation on unknown node %d", nr.Node)}
		}
	}

	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return &LoadError{Message: fmt.Sprintf("invalid timeout %q", s.Timeout), Cause: err}
		}
	}

	return nil
}
