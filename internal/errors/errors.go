package errors

import "errors"

var (
	ErrConfigKeyNotFound   = errors.New("config key not found")
	ErrMissingConfig       = errors.New("missing required configuration")
	ErrStackNotFound       = errors.New("stack not found")
	ErrStackFailed         = errors.New("stack operation failed")
	ErrRepositoryNotFound  = errors.New("ECR repository not found")
	ErrNoAuthorizationData = errors.New("no ECR authorization data returned")
	ErrDigestMismatch      = errors.New("image tags reference different digests")
	ErrPolicyViolation     = errors.New("template violates deployment policy")
	ErrLocked              = errors.New("deployment lock held by another run")
	ErrVerificationFailed  = errors.New("verification failed")
)
