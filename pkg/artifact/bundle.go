package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"gopkg.in/yaml.v3"
)

// document is the wire shape of a single YAML document within a bundle.
// Exactly one of scenario/package/model is populated, selected by kind.
type document struct {
	Kind     string            `yaml:"kind"`
	Name     string            `yaml:"name"`
	Scenario *scenarioDocument `yaml:"scenario,omitempty"`
	Package  *packageDocument  `yaml:"package,omitempty"`
	Model    *modelDocument    `yaml:"model,omitempty"`
}

type scenarioDocument struct {
	Condition string `yaml:"condition"`
	Action    string `yaml:"action"`
	Target    string `yaml:"target"`
}

type packageDocument struct {
	Patterns []string              `yaml:"patterns"`
	Models   []packageModelRefDocs `yaml:"models"`
}

type packageModelRefDocs struct {
	Model string `yaml:"model"`
	Node  string `yaml:"node"`
}

type modelDocument struct {
	Node          string             `yaml:"node"`
	Containers    []containerSpecDoc `yaml:"containers"`
	NetworkMode   string             `yaml:"networkMode"`
	RestartPolicy *restartPolicyDoc  `yaml:"restartPolicy,omitempty"`
	Annotations   map[string]string  `yaml:"annotations,omitempty"`
}

type containerSpecDoc struct {
	Name    string   `yaml:"name"`
	Image   string   `yaml:"image"`
	Command []string `yaml:"command,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Ports   []int    `yaml:"ports,omitempty"`
}

type restartPolicyDoc struct {
	Condition   string        `yaml:"condition"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Delay       time.Duration `yaml:"delay"`
}

// ParseBundle splits raw on the YAML document delimiter and parses each
// document into an Artifact. It does not resolve node references or check
// for duplicate (kind,name) pairs within the bundle — that's Intake's job.
func ParseBundle(raw []byte) ([]*types.Artifact, error) {
	var artifacts []*types.Artifact

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	for {
		var doc document
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, piccoloerr.New(piccoloerr.CodeBadRequest, "", fmt.Sprintf("parse bundle document: %v", err))
		}
		if isBlankDocument(doc) {
			continue
		}

		artifact, err := doc.toArtifact()
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}

	return artifacts, nil
}

func isBlankDocument(doc document) bool {
	return doc.Kind == "" && doc.Name == ""
}

func (d document) toArtifact() (*types.Artifact, error) {
	kind := types.Kind(strings.TrimSpace(d.Kind))
	if d.Name == "" {
		return nil, piccoloerr.New(piccoloerr.CodeBadRequest, "", "document is missing a name")
	}

	artifact := &types.Artifact{Kind: kind, Name: d.Name}

	switch kind {
	case types.KindScenario:
		if d.Scenario == nil {
			return nil, piccoloerr.New(piccoloerr.CodeBadRequest, d.Name, "scenario document missing scenario body")
		}
		if d.Scenario.Target == "" {
			return nil, piccoloerr.New(piccoloerr.CodeBadRequest, d.Name, "scenario document missing target package")
		}
		artifact.Scenario = &types.Scenario{
			Name:      d.Name,
			Condition: d.Scenario.Condition,
			Action:    d.Scenario.Action,
			Target:    d.Scenario.Target,
			State:     types.ScenarioStateIdle,
		}

	case types.KindPackage:
		if d.Package == nil {
			return nil, piccoloerr.New(piccoloerr.CodeBadRequest, d.Name, "package document missing package body")
		}
		refs := make([]types.PackageModelRef, 0, len(d.Package.Models))
		for _, m := range d.Package.Models {
			if m.Model == "" {
				return nil, piccoloerr.New(piccoloerr.CodeBadRequest, d.Name, "package document has a model entry missing a model name")
			}
			refs = append(refs, types.PackageModelRef{ModelName: m.Model, Node: m.Node})
		}
		artifact.Package = &types.Package{
			Name:     d.Name,
			Patterns: d.Package.Patterns,
			Models:   refs,
			State:    types.PackageStateIdle,
		}

	case types.KindModel:
		if d.Model == nil {
			return nil, piccoloerr.New(piccoloerr.CodeBadRequest, d.Name, "model document missing model body")
		}
		containers := make([]types.ContainerSpec, 0, len(d.Model.Containers))
		for _, c := range d.Model.Containers {
			if c.Image == "" {
				return nil, piccoloerr.New(piccoloerr.CodeBadRequest, d.Name, fmt.Sprintf("container %q is missing an image", c.Name))
			}
			containers = append(containers, types.ContainerSpec{
				Name: c.Name, Image: c.Image, Command: c.Command, Env: c.Env, Ports: c.Ports,
			})
		}
		var restart *types.RestartPolicy
		if d.Model.RestartPolicy != nil {
			restart = &types.RestartPolicy{
				Condition:   types.RestartCondition(d.Model.RestartPolicy.Condition),
				MaxAttempts: d.Model.RestartPolicy.MaxAttempts,
				Delay:       d.Model.RestartPolicy.Delay,
			}
		}
		artifact.Model = &types.Model{
			Name:     d.Name,
			NodeName: d.Model.Node,
			Spec: types.ModelSpec{
				Containers:    containers,
				NetworkMode:   d.Model.NetworkMode,
				RestartPolicy: restart,
				Annotations:   d.Model.Annotations,
			},
			State: types.ModelStateCreated,
		}

	default:
		return nil, piccoloerr.New(piccoloerr.CodeBadRequest, d.Name, fmt.Sprintf("unknown artifact kind %q", d.Kind))
	}

	return artifact, nil
}
