package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Service struct {
	client S3API
}

func NewS3Service(client S3API) *S3Service {
	return &S3Service{client: client}
}

// CheckBucket returns an error unless the bucket exists and is reachable with
// the ambient credentials.
func (s *S3Service) CheckBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s is not accessible: %w", bucket, err)
	}
	return nil
}

// BucketARN is the ARN of an S3 bucket in the partition of region.
func BucketARN(region, bucket string) string {
	return "arn:" + Partition(region) + ":s3:::" + bucket
}

// Partition returns the AWS partition region belongs to.
func Partition(region string) string {
	switch {
	case strings.HasPrefix(region, "cn-"):
		return "aws-cn"
	case strings.HasPrefix(region, "us-gov-"):
		return "aws-us-gov"
	case strings.HasPrefix(region, "us-isob-"):
		return "aws-iso-b"
	case strings.HasPrefix(region, "us-iso-"):
		return "aws-iso"
	default:
		return "aws"
	}
}
