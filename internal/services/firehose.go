package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
)

type FirehoseService struct {
	client FirehoseAPI
}

func NewFirehoseService(client FirehoseAPI) *FirehoseService {
	return &FirehoseService{client: client}
}

// DeliveryStreamInfo is the S3 destination of a delivery stream.
type DeliveryStreamInfo struct {
	Name      string
	ARN       string
	Status    string
	BucketARN string
	Prefix    string
}

// DescribeDeliveryStream returns the first S3 destination of the stream.
func (s *FirehoseService) DescribeDeliveryStream(ctx context.Context, name string) (*DeliveryStreamInfo, error) {
	out, err := s.client.DescribeDeliveryStream(ctx, &firehose.DescribeDeliveryStreamInput{
		DeliveryStreamName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe delivery stream %s: %w", name, err)
	}

	desc := out.DeliveryStreamDescription
	if desc == nil {
		return nil, fmt.Errorf("delivery stream %s has no description", name)
	}

	info := &DeliveryStreamInfo{
		Name:   aws.ToString(desc.DeliveryStreamName),
		ARN:    aws.ToString(desc.DeliveryStreamARN),
		Status: string(desc.DeliveryStreamStatus),
	}

	for _, dest := range desc.Destinations {
		switch {
		case dest.ExtendedS3DestinationDescription != nil:
			info.BucketARN = aws.ToString(dest.ExtendedS3DestinationDescription.BucketARN)
			info.Prefix = aws.ToString(dest.ExtendedS3DestinationDescription.Prefix)
			return info, nil
		case dest.S3DestinationDescription != nil:
			info.BucketARN = aws.ToString(dest.S3DestinationDescription.BucketARN)
			info.Prefix = aws.ToString(dest.S3DestinationDescription.Prefix)
			return info, nil
		}
	}

	return nil, fmt.Errorf("delivery stream %s has no S3 destination", name)
}
