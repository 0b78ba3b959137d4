// Package deploy applies rendered infrastructure with CloudFormation or
// terraform.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/ecs-deployer/internal/stack"
	"github.com/savaki/ecs-deployer/internal/utils"
)

// Operations reported in a Result.
const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
	OperationNone   = "NONE"
)

const (
	defaultMaxWait   = 30 * time.Minute
	defaultPollDelay = 15 * time.Second
	maxFailureEvents = 10
)

// CloudFormationAPI is the subset of the CloudFormation client the deployer
// uses.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

var _ CloudFormationAPI = (*cloudformation.Client)(nil)

// Result describes one apply.
type Result struct {
	StackName string
	StackID   string
	Operation string
	Outputs   map[string]string
}

// Changed reports whether the apply modified anything.
func (r *Result) Changed() bool {
	return r.Operation != OperationNone
}

// CloudFormation creates or updates stacks and waits for them to settle.
type CloudFormation struct {
	client    CloudFormationAPI
	MaxWait   time.Duration
	PollDelay time.Duration
	Tags      map[string]string
}

func NewCloudFormation(client CloudFormationAPI) *CloudFormation {
	return &CloudFormation{
		client:    client,
		MaxWait:   defaultMaxWait,
		PollDelay: defaultPollDelay,
		Tags:      map[string]string{"ManagedBy": "ecs-deployer"},
	}
}

// ApplyInfrastructure deploys the infrastructure stack.
func (d *CloudFormation) ApplyInfrastructure(ctx context.Context, infra *stack.Infrastructure) (*Result, error) {
	return d.Deploy(ctx, infra.StackName, infra.Template())
}

// Deploy creates stackName when it does not exist and updates it otherwise.
// Parameters are the template defaults overridden by params in order. An
// update without changes succeeds with OperationNone.
func (d *CloudFormation) Deploy(ctx context.Context, stackName string, tmpl *stack.Template, params ...map[string]string) (result *Result, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		event := logger.Info()
		if err != nil {
			event = logger.Error().Err(err)
		}
		event.Str("stack_name", stackName).
			Dur("duration", time.Since(begin)).
			Msg("stack deploy finished")
	}(time.Now())

	body, err := tmpl.JSON()
	if err != nil {
		return nil, err
	}
	parameters := utils.MergeParameters(append([]map[string]string{tmpl.ParameterDefaults()}, params...)...)

	exists, err := d.stackExists(ctx, stackName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if stack exists: %w", err)
	}

	if exists {
		result, err = d.updateStack(ctx, stackName, string(body), parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to update stack %s: %w", stackName, err)
		}
	} else {
		result, err = d.createStack(ctx, stackName, string(body), parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to create stack %s: %w", stackName, err)
		}
	}

	logger.Info().
		Str("operation", result.Operation).
		Str("stack_name", stackName).
		Msg("stack operation started")

	if err := d.wait(ctx, result); err != nil {
		return nil, err
	}

	outputs, err := d.outputs(ctx, stackName)
	if err != nil {
		return nil, err
	}
	result.Outputs = outputs

	return result, nil
}

func (d *CloudFormation) stackExists(ctx context.Context, stackName string) (bool, error) {
	out, err := d.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return false, nil
		}
		return false, err
	}

	// a stack whose create was rolled back cannot be updated
	for _, s := range out.Stacks {
		if s.StackStatus == types.StackStatusRollbackComplete {
			return false, fmt.Errorf("%w: %s is in %s and must be deleted before it can be recreated",
				deployerrors.ErrStackFailed, stackName, s.StackStatus)
		}
	}
	return len(out.Stacks) > 0, nil
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			(strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed") ||
				strings.Contains(apiErr.ErrorMessage(), "No updates to be performed"))
	}
	return false
}

func capabilities() []types.Capability {
	return []types.Capability{
		types.CapabilityCapabilityIam,
		types.CapabilityCapabilityNamedIam,
	}
}

func (d *CloudFormation) createStack(ctx context.Context, stackName, template string, parameters []types.Parameter) (*Result, error) {
	out, err := d.client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(template),
		Parameters:   parameters,
		Capabilities: capabilities(),
		Tags:         utils.StackTags(d.Tags),
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		StackName: stackName,
		StackID:   aws.ToString(out.StackId),
		Operation: OperationCreate,
	}, nil
}

func (d *CloudFormation) updateStack(ctx context.Context, stackName, template string, parameters []types.Parameter) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	out, err := d.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(template),
		Parameters:   parameters,
		Capabilities: capabilities(),
		Tags:         utils.StackTags(d.Tags),
	})
	if err != nil {
		if isNoUpdates(err) {
			logger.Info().Str("stack_name", stackName).Msg("no updates needed for stack")
			return &Result{
				StackName: stackName,
				StackID:   stackName,
				Operation: OperationNone,
			}, nil
		}
		return nil, err
	}

	return &Result{
		StackName: stackName,
		StackID:   aws.ToString(out.StackId),
		Operation: OperationUpdate,
	}, nil
}

// wait blocks until the operation completes. On failure the most recent
// failed resource events are logged and folded into the error.
func (d *CloudFormation) wait(ctx context.Context, result *Result) error {
	input := &cloudformation.DescribeStacksInput{StackName: aws.String(result.StackName)}

	var err error
	switch result.Operation {
	case OperationCreate:
		waiter := cloudformation.NewStackCreateCompleteWaiter(d.client, func(o *cloudformation.StackCreateCompleteWaiterOptions) {
			o.MinDelay = d.PollDelay
		})
		err = waiter.Wait(ctx, input, d.MaxWait)
	case OperationUpdate:
		waiter := cloudformation.NewStackUpdateCompleteWaiter(d.client, func(o *cloudformation.StackUpdateCompleteWaiterOptions) {
			o.MinDelay = d.PollDelay
		})
		err = waiter.Wait(ctx, input, d.MaxWait)
	default:
		return nil
	}
	if err == nil {
		return nil
	}

	return d.describeFailure(ctx, result.StackName, err)
}

func (d *CloudFormation) describeFailure(ctx context.Context, stackName string, cause error) error {
	logger := zerolog.Ctx(ctx)

	status := "UNKNOWN"
	if out, err := d.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)}); err == nil && len(out.Stacks) > 0 {
		s := out.Stacks[0]
		status = string(s.StackStatus)
		if s.StackStatusReason != nil {
			logger.Error().Str("stack_name", stackName).Str("reason", *s.StackStatusReason).Msg("stack status reason")
		}
	}

	events, err := d.failedEvents(ctx, stackName)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to describe stack events")
	}

	var reasons []string
	for _, event := range events {
		reason := fmt.Sprintf("%s %s: %s",
			aws.ToString(event.LogicalResourceId),
			event.ResourceStatus,
			aws.ToString(event.ResourceStatusReason))
		reasons = append(reasons, reason)
		logger.Error().
			Str("resource", aws.ToString(event.LogicalResourceId)).
			Str("status", string(event.ResourceStatus)).
			Str("reason", aws.ToString(event.ResourceStatusReason)).
			Msg("resource failed")
	}

	if len(reasons) == 0 {
		return fmt.Errorf("%w: %s is %s: %w", deployerrors.ErrStackFailed, stackName, status, cause)
	}
	return fmt.Errorf("%w: %s is %s: %s: %w", deployerrors.ErrStackFailed, stackName, status, strings.Join(reasons, "; "), cause)
}

// failedEvents returns up to maxFailureEvents of the most recent failed
// resource events.
func (d *CloudFormation) failedEvents(ctx context.Context, stackName string) ([]types.StackEvent, error) {
	out, err := d.client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, err
	}

	var events []types.StackEvent
	for _, event := range out.StackEvents {
		if len(events) >= maxFailureEvents {
			break
		}
		switch event.ResourceStatus {
		case types.ResourceStatusCreateFailed, types.ResourceStatusUpdateFailed, types.ResourceStatusDeleteFailed:
			events = append(events, event)
		}
	}
	return events, nil
}

func (d *CloudFormation) outputs(ctx context.Context, stackName string) (map[string]string, error) {
	out, err := d.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", deployerrors.ErrStackNotFound, stackName)
	}

	outputs := map[string]string{}
	for _, o := range out.Stacks[0].Outputs {
		outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return outputs, nil
}
