package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/models"
)

// ParameterStore defines the interface for reading and recording releases
type ParameterStore interface {
	// GetRelease returns the last recorded release, or nil when none exists
	GetRelease(ctx context.Context, name string) (*models.ReleaseRecord, error)

	// PutRelease records a successful release
	PutRelease(ctx context.Context, name string, record models.ReleaseRecord) error
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client SSMAPI
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMAPI) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

func (s *SSMParameterStore) GetRelease(ctx context.Context, name string) (*models.ReleaseRecord, error) {
	value, err := s.GetParameter(ctx, name)
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}

	var record models.ReleaseRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("failed to parse release record %s: %w", name, err)
	}

	return &record, nil
}

func (s *SSMParameterStore) PutRelease(ctx context.Context, name string, record models.ReleaseRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal release record: %w", err)
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:        aws.String(name),
		Value:       aws.String(string(data)),
		Type:        types.ParameterTypeString,
		Overwrite:   aws.Bool(true),
		Description: aws.String("Last release deployed by ecs-deployer"),
	})
	if err != nil {
		return fmt.Errorf("failed to store release record %s: %w", name, err)
	}

	s.mu.Lock()
	s.cache[name] = string(data)
	s.mu.Unlock()

	return nil
}

// LogParameterStore implements ParameterStore without AWS. Releases are only
// logged. Used when SSM is disabled for local runs.
type LogParameterStore struct {
	logger zerolog.Logger
}

// NewLogParameterStore creates a parameter store that records nothing
func NewLogParameterStore(logger zerolog.Logger) *LogParameterStore {
	return &LogParameterStore{logger: logger}
}

func (l *LogParameterStore) GetRelease(ctx context.Context, name string) (*models.ReleaseRecord, error) {
	return nil, nil
}

func (l *LogParameterStore) PutRelease(ctx context.Context, name string, record models.ReleaseRecord) error {
	l.logger.Info().
		Str("parameter", name).
		Str("run_id", record.RunID).
		Str("commit", record.CommitHash).
		Str("digest", record.Digest).
		Msg("release recorded (SSM disabled)")
	return nil
}
