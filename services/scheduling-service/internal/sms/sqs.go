package sms

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the slice of the SQS client the sender needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSender hands messages to a queue drained by a downstream messaging worker.
type SQSSender struct {
	client   SQSAPI
	queueURL string
}

func NewSQSSender(client SQSAPI, queueURL string) (*SQSSender, error) {
	if client == nil {
		return nil, fmt.Errorf("sms: sqs client is nil")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("sms: sqs queue url is empty")
	}
	return &SQSSender{client: client, queueURL: queueURL}, nil
}

func (s *SQSSender) ProviderID() string {
	return "sms-sqs"
}

func (s *SQSSender) Send(ctx context.Context, to string, body string) error {
	raw, err := encode(to, body)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(raw)),
	})
	if err != nil {
		return fmt.Errorf("sms: sqs send: %w", err)
	}
	return nil
}

type AWSConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	EndpointOverride string
}

// NewSQSClient builds an SQS client, pointing it at EndpointOverride (LocalStack)
// when set.
func NewSQSClient(ctx context.Context, cfg AWSConfig) (*sqs.Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if strings.TrimSpace(cfg.AccessKeyID) != "" && strings.TrimSpace(cfg.SecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("sms: load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.EndpointOverride)
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
