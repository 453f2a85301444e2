package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medkeep/phivault/internal/logging"
	sc "github.com/medkeep/phivault/internal/server/config"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

const presignValidity = 15 * time.Minute

// AttachmentService manages encrypted document attachments. File bytes go
// to object storage through presigned URLs; the service itself handles only
// metadata and the wrapped per-file key. Plaintext never transits the server.
type AttachmentService struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	config *sc.Config
	logger logging.Logger
}

// NewAttachmentService constructs an AttachmentService.
func NewAttachmentService(db *sql.DB, rm repomanager.RepositoryManager, cfg *sc.Config, logger logging.Logger) *AttachmentService {
	return &AttachmentService{db: db, rm: rm, config: cfg, logger: logger}
}

// makeStorageKey buckets objects by day so retention tooling can act on
// whole prefixes.
func makeStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("attachments/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *AttachmentService) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

func (s *AttachmentService) presignPut(ctx context.Context, key string) (string, error) {
	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

func (s *AttachmentService) presignGet(ctx context.Context, key string) (string, error) {
	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

// UploadTask tells the client where to PUT the encrypted file bytes.
type UploadTask struct {
	AttachmentID string
	URL          string
}

// InitiateUpload registers attachment metadata in pending state and returns
// a presigned PUT URL. The client encrypts the file locally, uploads the
// ciphertext directly, then confirms with ConfirmUpload.
func (s *AttachmentService) InitiateUpload(ctx context.Context, recordID string, encryptedFileKey, nonce []byte) (*UploadTask, error) {
	// The record must exist; attachments never dangle.
	if _, err := s.rm.Records(s.db).GetByID(ctx, recordID); err != nil {
		return nil, err
	}

	key := makeStorageKey()
	url, err := s.presignPut(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("error presigning upload: %w", err)
	}

	att := &models.Attachment{
		ID:               uuid.NewString(),
		RecordID:         recordID,
		StorageKey:       key,
		EncryptedFileKey: encryptedFileKey,
		Nonce:            nonce,
		UploadStatus:     "pending",
		CreatedAt:        time.Now(),
	}
	if err := s.rm.Attachments(s.db).Create(ctx, att); err != nil {
		return nil, fmt.Errorf("error creating attachment: %w", err)
	}

	s.logger.Info(ctx, "attachment upload initiated", "attachment_id", att.ID, "record_id", recordID)
	return &UploadTask{AttachmentID: att.ID, URL: url}, nil
}

// ConfirmUpload marks an attachment as uploaded once the client reports a
// successful PUT.
func (s *AttachmentService) ConfirmUpload(ctx context.Context, id string) error {
	if err := s.rm.Attachments(s.db).MarkUploaded(ctx, id); err != nil {
		return fmt.Errorf("error updating attachment: %w", err)
	}
	return nil
}

// DownloadURL returns a presigned GET URL for an uploaded attachment's
// ciphertext, plus the wrapped file key and nonce the client needs to open
// it.
func (s *AttachmentService) DownloadURL(ctx context.Context, id string) (*models.Attachment, string, error) {
	att, err := s.rm.Attachments(s.db).Get(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("error getting attachment: %w", err)
	}

	url, err := s.presignGet(ctx, att.StorageKey)
	if err != nil {
		return nil, "", err
	}

	return att, url, nil
}

// ListForRecord returns a record's attachment metadata.
func (s *AttachmentService) ListForRecord(ctx context.Context, recordID string) ([]*models.Attachment, error) {
	return s.rm.Attachments(s.db).ListByRecord(ctx, recordID)
}
