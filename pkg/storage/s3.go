package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	// FolderPayments is the S3 prefix for gateway receipts.
	FolderPayments = "payments"
	// ReceiptURLExpiry is how long an operator receipt link stays valid.
	ReceiptURLExpiry = 15 * time.Minute
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ReceiptsBucket  string
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ReceiptArchive stores raw gateway execute/query responses, one object per payment.
type ReceiptArchive struct {
	uploader  uploader
	presigner presigner
	bucket    string
	logger    *zap.Logger
}

// NewReceiptArchive creates an S3 archive using static credentials from config, or the default chain when unset.
func NewReceiptArchive(ctx context.Context, cfg S3Config, logger *zap.Logger) (*ReceiptArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
		logger.Info("S3 client using credentials from config", zap.String("region", cfg.Region), zap.String("receipts_bucket", cfg.ReceiptsBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &ReceiptArchive{
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.ReceiptsBucket,
		logger:    logger,
	}, nil
}

// ReceiptKey returns the object key: payments/{payment_id}/receipt.json.
func ReceiptKey(paymentID string) string {
	return path.Join(FolderPayments, path.Base(paymentID), "receipt.json")
}

// ArchiveReceipt uploads raw as the receipt of paymentID, replacing an earlier copy.
func (a *ReceiptArchive) ArchiveReceipt(ctx context.Context, paymentID string, raw []byte) error {
	key := ReceiptKey(paymentID)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(raw),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("upload receipt: %w", err)
	}
	a.logger.Debug("receipt archived", zap.String("payment_id", paymentID), zap.String("s3_key", key))
	return nil
}

// ReceiptURL returns a pre-signed GET URL for the receipt of paymentID.
func (a *ReceiptArchive) ReceiptURL(ctx context.Context, paymentID string) (string, error) {
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(ReceiptKey(paymentID)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ReceiptURLExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
