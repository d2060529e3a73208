package awsutil

import (
	"context"
	"testing"
)

func TestGetConfigAppliesStaticCredentials(t *testing.T) {
	cfg := SessionConfig{
		Region: "us-east-1",
		Credentials: CredentialsConfig{
			ID:     "AKIAEXAMPLE",
			Secret: "secret",
		},
	}

	awsConf, err := GetConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if awsConf.Region != "us-east-1" {
		t.Fatalf("region = %q, want us-east-1", awsConf.Region)
	}

	creds, err := awsConf.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if creds.AccessKeyID != "AKIAEXAMPLE" {
		t.Fatalf("access key = %q, want AKIAEXAMPLE", creds.AccessKeyID)
	}
}

func TestGetConfigAppliesEndpointOverride(t *testing.T) {
	cfg := SessionConfig{
		Region:   "us-east-1",
		Endpoint: "http://localhost:4566",
	}

	awsConf, err := GetConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if awsConf.BaseEndpoint == nil || *awsConf.BaseEndpoint != "http://localhost:4566" {
		t.Fatalf("BaseEndpoint = %v, want http://localhost:4566", awsConf.BaseEndpoint)
	}
}
