package image

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/services"
)

// Authenticator converts ECR registry credentials into registry basic auth.
func Authenticator(creds *services.RegistryCredentials) authn.Authenticator {
	if creds == nil {
		return authn.Anonymous
	}
	return &authn.Basic{
		Username: creds.Username,
		Password: creds.Password,
	}
}

// Pusher uploads saved image tarballs to a registry.
type Pusher struct {
	auth authn.Authenticator
}

func NewPusher(auth authn.Authenticator) *Pusher {
	if auth == nil {
		auth = authn.Anonymous
	}
	return &Pusher{auth: auth}
}

// Push uploads the image in tarballPath to repositoryURI under the first tag,
// then points every other tag at the same manifest. It returns the manifest
// digest shared by all tags.
func (p *Pusher) Push(ctx context.Context, tarballPath, repositoryURI string, tags ...string) (string, error) {
	logger := zerolog.Ctx(ctx)

	if len(tags) == 0 {
		return "", fmt.Errorf("at least one tag is required")
	}

	repo, err := name.NewRepository(repositoryURI)
	if err != nil {
		return "", fmt.Errorf("invalid repository %s: %w", repositoryURI, err)
	}

	img, err := tarball.ImageFromPath(tarballPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to load image from %s: %w", tarballPath, err)
	}

	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to compute image digest: %w", err)
	}

	options := []remote.Option{
		remote.WithAuth(p.auth),
		remote.WithContext(ctx),
	}

	first := repo.Tag(tags[0])
	logger.Info().Str("ref", first.String()).Str("digest", digest.String()).Msg("pushing image")
	if err := remote.Write(first, img, options...); err != nil {
		return "", fmt.Errorf("failed to push %s: %w", first, err)
	}

	for _, tag := range tags[1:] {
		ref := repo.Tag(tag)
		logger.Info().Str("ref", ref.String()).Msg("tagging image")
		if err := remote.Tag(ref, img, options...); err != nil {
			return "", fmt.Errorf("failed to tag %s: %w", ref, err)
		}
	}

	return digest.String(), nil
}

// RemoteDigest returns the digest a tag currently references.
func (p *Pusher) RemoteDigest(ctx context.Context, repositoryURI, tag string) (v1.Hash, error) {
	ref, err := name.NewTag(repositoryURI + ":" + tag)
	if err != nil {
		return v1.Hash{}, fmt.Errorf("invalid reference %s:%s: %w", repositoryURI, tag, err)
	}

	desc, err := remote.Head(ref, remote.WithAuth(p.auth), remote.WithContext(ctx))
	if err != nil {
		return v1.Hash{}, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	return desc.Digest, nil
}
