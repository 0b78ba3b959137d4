package di

import "time"

// Engines that can apply the infrastructure stack.
const (
	EngineCloudFormation = "cloudformation"
	EngineTerraform      = "terraform"
)

// Settings carries the command-line choices providers depend on.
type Settings struct {
	Region        string        // overrides the ambient AWS region
	Engine        string        // EngineCloudFormation (default) or EngineTerraform
	LockTable     string        // DynamoDB lock table; empty disables locking
	RecordRelease bool          // store the release in SSM after success
	Wait          time.Duration // how long to wait for the service to stabilize
	Quiet         bool          // hide docker, git and terraform console output
}

// Option is a function that configures the dependency injection container.
type Option func(*options)

func WithRegion(region string) Option {
	return func(opts *options) {
		opts.settings.Region = region
	}
}

func WithEngine(engine string) Option {
	return func(opts *options) {
		opts.settings.Engine = engine
	}
}

func WithLockTable(table string) Option {
	return func(opts *options) {
		opts.settings.LockTable = table
	}
}

func WithRecordRelease(record bool) Option {
	return func(opts *options) {
		opts.settings.RecordRelease = record
	}
}

func WithWait(wait time.Duration) Option {
	return func(opts *options) {
		opts.settings.Wait = wait
	}
}

func WithQuiet(quiet bool) Option {
	return func(opts *options) {
		opts.settings.Quiet = quiet
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() *config.Project { return project },
//	    func() runner.Runner { return &runner.Fake{} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	settings  Settings
	providers []any
}
