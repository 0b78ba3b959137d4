// Package image builds the application image, authenticates to ECR, and
// pushes the image under the release tags.
package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/runner"
)

// DefaultPlatform matches the ARM64 Fargate task runtime.
const DefaultPlatform = "linux/arm64"

// BuildOptions configure a docker build.
type BuildOptions struct {
	AppDir     string // build context
	Dockerfile string // optional, relative to AppDir
	Platform   string // defaults to DefaultPlatform
	LocalTag   string // tag applied in the local daemon
	OutputDir  string // where the saved tarball is written; a temp dir when empty
}

// Artifact is a built image saved to disk.
type Artifact struct {
	LocalTag    string
	TarballPath string

	tempDir string // owned by the builder, removed by Cleanup
}

// Cleanup removes the tarball when the builder created its directory. A
// tarball written to a caller supplied OutputDir is left in place.
func (a *Artifact) Cleanup() error {
	if a == nil || a.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(a.tempDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", a.tempDir, err)
	}
	a.tempDir = ""
	return nil
}

// DockerBuilder builds images with the docker CLI.
type DockerBuilder struct {
	runner runner.Runner
}

func NewDockerBuilder(r runner.Runner) *DockerBuilder {
	return &DockerBuilder{runner: r}
}

// Build runs docker build for the target platform and saves the result as a
// tarball that can be pushed without the daemon.
func (b *DockerBuilder) Build(ctx context.Context, opts BuildOptions) (artifact *Artifact, err error) {
	logger := zerolog.Ctx(ctx)

	if opts.AppDir == "" {
		return nil, fmt.Errorf("app dir is required")
	}
	if opts.LocalTag == "" {
		return nil, fmt.Errorf("local tag is required")
	}
	if info, err := os.Stat(opts.AppDir); err != nil {
		return nil, fmt.Errorf("app dir %s: %w", opts.AppDir, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("app dir %s is not a directory", opts.AppDir)
	}

	platform := opts.Platform
	if platform == "" {
		platform = DefaultPlatform
	}

	var tempDir string
	outputDir := opts.OutputDir
	if outputDir == "" {
		tempDir, err = os.MkdirTemp("", "ecs-deployer-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		outputDir = tempDir
		defer func() {
			if err != nil {
				_ = os.RemoveAll(tempDir)
			}
		}()
	} else if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	args := []string{"build", "--platform", platform, "-t", opts.LocalTag}
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	args = append(args, ".")

	logger.Info().
		Str("platform", platform).
		Str("tag", opts.LocalTag).
		Str("context", opts.AppDir).
		Msg("building image")

	begin := time.Now()
	if _, err := b.runner.Run(ctx, opts.AppDir, "docker", args...); err != nil {
		return nil, fmt.Errorf("docker build failed: %w", err)
	}

	tarball := filepath.Join(outputDir, "image.tar")
	if _, err := b.runner.Run(ctx, opts.AppDir, "docker", "save", "-o", tarball, opts.LocalTag); err != nil {
		return nil, fmt.Errorf("docker save failed: %w", err)
	}

	logger.Info().
		Str("tarball", tarball).
		Dur("duration", time.Since(begin)).
		Msg("image built")

	return &Artifact{
		LocalTag:    opts.LocalTag,
		TarballPath: tarball,
		tempDir:     tempDir,
	}, nil
}
