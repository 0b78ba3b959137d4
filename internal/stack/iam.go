package stack

import (
	"encoding/json"
	"fmt"
)

const policyVersion = "2012-10-17"

// PolicyDocument is an IAM policy document.
type PolicyDocument struct {
	Version   string      `json:"Version" yaml:"Version"`
	Statement []Statement `json:"Statement" yaml:"Statement"`
}

type Statement struct {
	Sid       string            `json:"Sid,omitempty" yaml:"Sid,omitempty"`
	Effect    string            `json:"Effect" yaml:"Effect"`
	Principal map[string]string `json:"Principal,omitempty" yaml:"Principal,omitempty"`
	Action    []string          `json:"Action" yaml:"Action"`
	Resource  []string          `json:"Resource,omitempty" yaml:"Resource,omitempty"`
}

// AssumeRolePolicy lets service assume a role.
func AssumeRolePolicy(service string) PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []Statement{
			{
				Effect:    "Allow",
				Principal: map[string]string{"Service": service},
				Action:    []string{"sts:AssumeRole"},
			},
		},
	}
}

func allow(sid string, actions []string, resources ...string) Statement {
	return Statement{
		Sid:      sid,
		Effect:   "Allow",
		Action:   actions,
		Resource: resources,
	}
}

// Role is an IAM role with a single inline policy.
type Role struct {
	Name       string
	PolicyName string
	AssumedBy  string
	Policy     PolicyDocument
}

func (r Role) resources(roleID, policyID string) map[string]Resource {
	return map[string]Resource{
		roleID: {
			Type: "AWS::IAM::Role",
			Properties: map[string]any{
				"RoleName":                 r.Name,
				"AssumeRolePolicyDocument": AssumeRolePolicy(r.AssumedBy),
			},
		},
		policyID: {
			Type: "AWS::IAM::Policy",
			Properties: map[string]any{
				"PolicyName":     r.PolicyName,
				"PolicyDocument": r.Policy,
				"Roles":          []any{Ref(roleID)},
			},
		},
	}
}

// JSON renders the document the way IAM stores it.
func (d PolicyDocument) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy document: %w", err)
	}
	return string(data), nil
}
