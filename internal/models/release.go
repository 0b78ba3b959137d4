package models

import (
	"fmt"
	"strings"
)

// Release identifies one run of the deployment workflow and the image it ships.
type Release struct {
	RunID      string `json:"run_id"`      // KSUID for this run
	CommitHash string `json:"commit_hash"` // Git commit hash, also the image tag
	Dirty      bool   `json:"dirty"`       // Work tree had uncommitted changes
	AccountID  string `json:"account_id"`  // AWS account id
	Region     string `json:"region"`      // AWS region
	Registry   string `json:"registry"`    // {account}.dkr.ecr.{region}.amazonaws.com
	Repository string `json:"repository"`  // ECR repository name
}

// RegistryURI builds the ECR registry host for an account and region.
func RegistryURI(accountID, region string) string {
	host := fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", accountID, region)
	if strings.HasPrefix(region, "cn-") {
		host += ".cn"
	}
	return host
}

// RepositoryURI is the registry host joined with the repository name.
func (r Release) RepositoryURI() string {
	return r.Registry + "/" + r.Repository
}

// ImageURI references the repository at tag.
func (r Release) ImageURI(tag string) string {
	return r.RepositoryURI() + ":" + tag
}

// Tags are the tags every release is pushed under.
func (r Release) Tags() []string {
	return []string{LatestTag, r.CommitHash}
}

// ShortCommit is the abbreviated commit hash used in log output.
func (r Release) ShortCommit() string {
	if len(r.CommitHash) > 12 {
		return r.CommitHash[:12]
	}
	return r.CommitHash
}

// LocalTag names the image in the local docker daemon before it is pushed.
func (r Release) LocalTag() string {
	name := r.Repository
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name + ":" + r.CommitHash
}

const LatestTag = "latest"

// ReleaseRecord is stored after a successful run.
type ReleaseRecord struct {
	RunID      string `json:"run_id"`
	CommitHash string `json:"commit_hash"`
	ImageURI   string `json:"image_uri"`
	Digest     string `json:"digest"`
	StackName  string `json:"stack_name"`
	DeployedAt int64  `json:"deployed_at"`
}
