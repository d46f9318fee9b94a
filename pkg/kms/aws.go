package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type awsProvider struct {
	kmsClient *kms.Client
	smClient  *secretsmanager.Client
	keyID     string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(os.Getenv("AWS_REGION")),
	)
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		kmsClient: kms.NewFromConfig(cfg),
		smClient:  secretsmanager.NewFromConfig(cfg),
		keyID:     getEnvOrDefault("KMS_MASTER_KEY_ID", "alias/zerobin-master"),
	}, nil
}
func (a *awsProvider) EncryptWithContext(ctx context.Context, plaintext []byte, encContext []byte) ([]byte, error) {
	input := &kms.EncryptInput{
		KeyId:     &a.keyID,
		Plaintext: plaintext,
	}
	if len(encContext) > 0 {
		input.EncryptionContext = map[string]string{
			"context": base64.StdEncoding.EncodeToString(encContext),
		}
	}
	result, err := a.kmsClient.Encrypt(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("aws kms encrypt failed: %w", err)
	}
	return result.CiphertextBlob, nil
}

func (a *awsProvider) DecryptWithContext(ctx context.Context, ciphertext []byte, encContext []byte) ([]byte, error) {
	input := &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	}
	if len(encContext) > 0 {
		input.EncryptionContext = map[string]string{
			"context": base64.StdEncoding.EncodeToString(encContext),
		}
	}
	result, err := a.kmsClient.Decrypt(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt failed: %w", err)
	}
	return result.Plaintext, nil
}
func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	result, err := a.smClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &key,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}
