package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	appConfig "github.com/mansoorceksport/storefront/internal/config"
	"github.com/mansoorceksport/storefront/internal/domain"
)

// S3ReceiptArchive stores settled invoice receipts as JSON objects on an S3 compatible store.
type S3ReceiptArchive struct {
	client   *s3.Client
	bucket   string
	endpoint string
}

// NewS3ReceiptArchive connects to the store and creates the bucket when missing.
func NewS3ReceiptArchive(ctx context.Context, cfg appConfig.S3Config) (*S3ReceiptArchive, error) {
	// SeaweedFS and MinIO accept any static credentials but still expect signed requests
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("any", "any", "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	archive := &S3ReceiptArchive{
		client:   client,
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
	}
	if err := archive.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return archive, nil
}

// ReceiptKey is the object key of an invoice receipt.
func ReceiptKey(invoiceID string) string {
	return fmt.Sprintf("receipts/%s.json", invoiceID)
}

// Archive uploads the receipt and returns its URL. Re-archiving overwrites the same key.
func (a *S3ReceiptArchive) Archive(ctx context.Context, receipt *domain.Receipt) (string, error) {
	if receipt == nil || receipt.Invoice == nil {
		return "", fmt.Errorf("receipt has no invoice")
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}

	key := ReceiptKey(receipt.Invoice.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload receipt: %w", err)
	}

	return fmt.Sprintf("%s/%s/%s", a.endpoint, a.bucket, key), nil
}

func (a *S3ReceiptArchive) ensureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}
