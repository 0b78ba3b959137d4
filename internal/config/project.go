package config

import (
	"fmt"

	"github.com/savaki/ecs-deployer/internal/errors"
)

// Network places the Fargate service. Optional; without it only the
// infrastructure stack is deployed.
type Network struct {
	VpcID     string
	SubnetIDs []string
}

// Terraform configures the remote state store used by the terraform engine.
type Terraform struct {
	StateBucket string
	StateKey    string
	WorkDir     string
}

// Project is the resolved view of the config file. Every resource name can be
// set explicitly under Resources; otherwise it is derived from Org and Project.
type Project struct {
	Org     string
	Project string

	Cluster        string
	Repository     string
	LogGroup       string
	Bucket         string
	Secret         string
	Service        string
	DeliveryStream string

	Network   *Network
	Terraform Terraform
}

// Project resolves names from the document.
func (f *File) Project() (*Project, error) {
	org, _ := f.GetString("Variables.Org", "")
	project, _ := f.GetString("Variables.Project", "")
	if org == "" || project == "" {
		return nil, fmt.Errorf("%w: Variables.Org and Variables.Project", errors.ErrMissingConfig)
	}

	str := func(key, fallback string) string {
		v, _ := f.GetString(key, fallback)
		if v == "" {
			return fallback
		}
		return v
	}

	p := &Project{
		Org:            org,
		Project:        project,
		Cluster:        str("Resources.EcsCluster", fmt.Sprintf("ecs-%s-%s-fargate", org, project)),
		Repository:     str("Resources.EcrRepo", fmt.Sprintf("ecr-%s-%s-firehose-producer", org, project)),
		LogGroup:       str("Resources.LogGroup", fmt.Sprintf("/aws/%s/%s", org, project)),
		Bucket:         str("Resources.S3Destination", ""),
		Secret:         str("Resources.SecretsManagerSecret", ""),
		Service:        str("Resources.EcsService", fmt.Sprintf("service-%s-%s-firehose-producer", org, project)),
		DeliveryStream: str("Resources.DeliveryStream", fmt.Sprintf("firehose-%s-%s-stream", org, project)),
		Terraform: Terraform{
			StateBucket: str("Terraform.StateBucket", ""),
			StateKey:    str("Terraform.StateKey", fmt.Sprintf("%s/%s/terraform.tfstate", org, project)),
			WorkDir:     str("Terraform.WorkDir", ".ecs-deployer/terraform"),
		},
	}

	if p.Bucket == "" {
		return nil, fmt.Errorf("%w: Resources.S3Destination", errors.ErrMissingConfig)
	}

	if vpc, _ := f.GetString("Network.VpcId", ""); vpc != "" {
		subnets, err := f.GetStrings("Network.SubnetIds")
		if err != nil || len(subnets) == 0 {
			return nil, fmt.Errorf("%w: Network.SubnetIds is required with Network.VpcId", errors.ErrMissingConfig)
		}
		if p.Secret == "" {
			return nil, fmt.Errorf("%w: Resources.SecretsManagerSecret is required with Network", errors.ErrMissingConfig)
		}
		p.Network = &Network{VpcID: vpc, SubnetIDs: subnets}
	}

	return p, nil
}

// StackName is the infrastructure stack.
func (p *Project) StackName() string {
	return fmt.Sprintf("stack-%s-%s", p.Org, p.Project)
}

// ServiceStackName is the Fargate service stack.
func (p *Project) ServiceStackName() string {
	return p.StackName() + "-service"
}

// RoleName is the delivery stream role. Region keeps it unique across regions
// since IAM is global.
func (p *Project) RoleName(region string) string {
	return fmt.Sprintf("iam-%s-%s-%s-firehose-producer", region, p.Org, p.Project)
}

func (p *Project) PolicyName() string {
	return fmt.Sprintf("policy-%s-%s-firehose-producer", p.Org, p.Project)
}

// LockKey identifies the project in the deployment lock table.
func (p *Project) LockKey() string {
	return p.Org + "/" + p.Project
}

// ReleaseParameter is the SSM parameter holding the last successful release.
func (p *Project) ReleaseParameter() string {
	return fmt.Sprintf("/%s/%s/ecs-deployer/release", p.Org, p.Project)
}
