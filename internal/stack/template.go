// Package stack declares the cloud resources a release runs on and renders
// them as CloudFormation templates.
package stack

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

const templateFormatVersion = "2010-09-09"

// Template is a CloudFormation template.
type Template struct {
	AWSTemplateFormatVersion string               `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string               `json:"Description,omitempty" yaml:"Description,omitempty"`
	Parameters               map[string]Parameter `json:"Parameters,omitempty" yaml:"Parameters,omitempty"`
	Resources                map[string]Resource  `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]Output    `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

type Parameter struct {
	Type        string `json:"Type" yaml:"Type"`
	Default     string `json:"Default,omitempty" yaml:"Default,omitempty"`
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
}

type Resource struct {
	Type                string         `json:"Type" yaml:"Type"`
	DependsOn           []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
	DeletionPolicy      string         `json:"DeletionPolicy,omitempty" yaml:"DeletionPolicy,omitempty"`
	UpdateReplacePolicy string         `json:"UpdateReplacePolicy,omitempty" yaml:"UpdateReplacePolicy,omitempty"`
	Properties          map[string]any `json:"Properties" yaml:"Properties"`
}

type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any    `json:"Value" yaml:"Value"`
}

// Ref references a resource or parameter by logical id.
func Ref(logicalID string) map[string]any {
	return map[string]any{"Ref": logicalID}
}

// GetAtt reads an attribute of a resource.
func GetAtt(logicalID, attribute string) map[string]any {
	return map[string]any{"Fn::GetAtt": []string{logicalID, attribute}}
}

// Sub interpolates ${...} references.
func Sub(s string) map[string]any {
	return map[string]any{"Fn::Sub": s}
}

func newTemplate(description string) *Template {
	return &Template{
		AWSTemplateFormatVersion: templateFormatVersion,
		Description:              description,
		Resources:                map[string]Resource{},
	}
}

// JSON renders the template as indented JSON.
func (t *Template) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// YAML renders the template as YAML.
func (t *Template) YAML() ([]byte, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// Map returns the template as generic JSON values, the shape policy
// evaluation expects.
func (t *Template) Map() (map[string]any, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	return m, nil
}

// ParameterDefaults returns the default value of every parameter.
func (t *Template) ParameterDefaults() map[string]string {
	defaults := map[string]string{}
	for name, p := range t.Parameters {
		if p.Default != "" {
			defaults[name] = p.Default
		}
	}
	return defaults
}
