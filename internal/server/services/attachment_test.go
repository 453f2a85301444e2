package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/logging"
	sc "github.com/medkeep/phivault/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttachmentEnv(t *testing.T) (*testEnv, *AttachmentService) {
	t.Helper()
	env := newTestEnv(t)
	cfg := &sc.Config{
		S3Region:       "us-east-1",
		S3RootUser:     "minioadmin",
		S3RootPassword: "minioadmin",
		S3BaseEndpoint: "http://127.0.0.1:9000",
		S3Bucket:       "phivault",
	}
	return env, NewAttachmentService(nil, env.rm, cfg, logging.NewNopLogger())
}

// stubPresign replaces every AWS seam with in-memory stubs and returns the
// canned URL the presigners will hand out.
func stubPresign(t *testing.T, url string) {
	t.Helper()

	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origNewPre := newS3PresignClient
	origPut := presignPutObject
	origGet := presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
		presignPutObject = origPut
		presignGetObject = origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return &s3.PresignClient{}
	}
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{URL: url}, nil
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{URL: url}, nil
	}
}

func TestInitiateUpload_Success(t *testing.T) {
	env, svc := newAttachmentEnv(t)
	record := env.createPatient(t)
	stubPresign(t, "https://minio.local/put")

	ctx := context.Background()
	task, err := svc.InitiateUpload(ctx, record.ID, []byte("wrapped-key"), []byte("nonce"))
	require.NoError(t, err)
	require.NotEmpty(t, task.AttachmentID)
	assert.Equal(t, "https://minio.local/put", task.URL)

	att, err := env.rm.Attachments(nil).Get(ctx, task.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, "pending", att.UploadStatus)
	assert.Equal(t, []byte("wrapped-key"), att.EncryptedFileKey)
}

func TestInitiateUpload_UnknownRecord(t *testing.T) {
	_, svc := newAttachmentEnv(t)
	stubPresign(t, "https://minio.local/put")

	_, err := svc.InitiateUpload(context.Background(), "no-such-record", nil, nil)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestConfirmUpload_ThenDownloadURL(t *testing.T) {
	env, svc := newAttachmentEnv(t)
	record := env.createPatient(t)
	stubPresign(t, "https://minio.local/url")

	ctx := context.Background()
	task, err := svc.InitiateUpload(ctx, record.ID, []byte("wrapped-key"), []byte("nonce"))
	require.NoError(t, err)

	require.NoError(t, svc.ConfirmUpload(ctx, task.AttachmentID))

	att, url, err := svc.DownloadURL(ctx, task.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, "uploaded", att.UploadStatus)
	assert.Equal(t, "https://minio.local/url", url)
	assert.Equal(t, []byte("wrapped-key"), att.EncryptedFileKey)
}

func TestAttachment_PresignClientConfig(t *testing.T) {
	_, svc := newAttachmentEnv(t)

	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origNewPre := newS3PresignClient
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}

	var capturedBaseEndpoint string
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint == nil {
			t.Fatalf("BaseEndpoint not set")
		}
		capturedBaseEndpoint = *opts.BaseEndpoint
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return &s3.PresignClient{}
	}

	pc, err := svc.getPresignClient()
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "http://127.0.0.1:9000", capturedBaseEndpoint)
}

func TestInitiateUpload_PresignError(t *testing.T) {
	env, svc := newAttachmentEnv(t)
	record := env.createPatient(t)

	orig := loadDefaultAWSConfig
	defer func() { loadDefaultAWSConfig = orig }()
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}

	_, err := svc.InitiateUpload(context.Background(), record.ID, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load-fail")

	// No metadata row is left behind when presigning fails.
	atts, err := svc.ListForRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestMakeStorageKey_Format(t *testing.T) {
	k := makeStorageKey()
	// attachments/YYYY/M/D/UUID
	re := regexp.MustCompile(`^attachments/\d{4}/\d{1,2}/\d{1,2}/[0-9a-fA-F-]+$`)
	if !re.MatchString(k) {
		t.Fatalf("unexpected format: %q", k)
	}
}
