// Package awsutil builds the aws.Config every AWS-backed component
// (Kinesis source, Kinesis sink, S3 asset fetcher, CloudWatch registry)
// shares, so credential resolution is written once.
package awsutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// CredentialsConfig selects how to authenticate against AWS.
type CredentialsConfig struct {
	Profile        string `yaml:"profile"`
	ID             string `yaml:"id"`
	Secret         string `yaml:"secret"`
	Token          string `yaml:"token"`
	Role           string `yaml:"role"`
	RoleExternalID string `yaml:"role_external_id"`
	FromEC2Role    bool   `yaml:"from_ec2_role"`
}

// SessionConfig is the common region/endpoint/credentials block embedded
// by every AWS component's own config struct.
type SessionConfig struct {
	Region      string            `yaml:"region"`
	Endpoint    string            `yaml:"endpoint"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// GetConfig resolves an aws.Config for cfg, applying a shared profile or
// static credentials, then an assumed role, then EC2 instance-role
// credentials when configured; each later step replaces the credentials
// set by an earlier one.
func GetConfig(ctx context.Context, cfg SessionConfig, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	creds := cfg.Credentials
	switch {
	case creds.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(creds.Profile))
	case creds.ID != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.ID, creds.Secret, creds.Token),
		))
	}

	awsConf, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awsConf, err
	}

	if cfg.Endpoint != "" {
		awsConf.BaseEndpoint = &cfg.Endpoint
	}

	if creds.Role != "" {
		stsSvc := sts.NewFromConfig(awsConf)

		var stsOpts []func(*stscreds.AssumeRoleOptions)
		if creds.RoleExternalID != "" {
			externalID := creds.RoleExternalID
			stsOpts = append(stsOpts, func(aro *stscreds.AssumeRoleOptions) {
				aro.ExternalID = &externalID
			})
		}

		provider := stscreds.NewAssumeRoleProvider(stsSvc, creds.Role, stsOpts...)
		awsConf.Credentials = aws.NewCredentialsCache(provider)
	}

	if creds.FromEC2Role {
		awsConf.Credentials = aws.NewCredentialsCache(ec2rolecreds.New())
	}

	return awsConf, nil
}
