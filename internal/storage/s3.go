package storage

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"cloudvault/upload-service/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config" // Alias config to avoid clash
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3Storage implements the ObjectStorage interface using an S3-compatible backend.
type s3Storage struct {
	client        *s3.Client        // Regular client for multipart lifecycle calls
	presignClient *s3.PresignClient // Special client for generating presigned URLs
	bucketName    string
}

// NewS3Storage creates a new S3 storage service instance.
func NewS3Storage(cfg config.S3Config) (ObjectStorage, error) {
	// Custom resolver for S3-compatible endpoints (like MinIO, DigitalOcean Spaces)
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           cfg.Endpoint,
				SigningRegion: cfg.Region,
			}, nil
		}
		// Fallback to default AWS endpoint resolution if no custom endpoint is set
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsSDKConfig, err := awsCfg.LoadDefaultConfig(context.TODO(),
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsCfg.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		log.Printf("ERROR: Failed to load AWS SDK config for S3: %v", err)
		return nil, err
	}

	// Force path-style addressing required by most S3-compatible services (like MinIO)
	s3Client := s3.NewFromConfig(awsSDKConfig, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	presignClient := s3.NewPresignClient(s3Client)

	log.Printf("S3 storage initialized for endpoint: %s, bucket: %s", cfg.Endpoint, cfg.BucketName)

	return &s3Storage{
		client:        s3Client,
		presignClient: presignClient,
		bucketName:    cfg.BucketName,
	}, nil
}

// CreateMultipartUpload opens a multipart session and returns the upload id.
func (s *s3Storage) CreateMultipartUpload(ctx context.Context, objectKey, contentType string) (string, error) {
	output, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.Printf("ERROR: Failed to create multipart upload for key '%s': %v", objectKey, err)
		return "", err
	}
	if output.UploadId == nil || *output.UploadId == "" {
		return "", errors.New("storage backend returned an empty upload id")
	}
	return *output.UploadId, nil
}

// PresignUploadPart creates a temporary URL for uploading one part (PUT).
func (s *s3Storage) PresignUploadPart(ctx context.Context, objectKey, uploadID string, partNumber int, partSizeBytes int64, expires time.Duration) (PartURL, error) {
	if expires <= 0 {
		expires = DefaultPresignedURLExpiry
	}
	if expires > MaxPresignedURLExpiry {
		expires = MaxPresignedURLExpiry
	}

	presignParams := &s3.UploadPartInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(objectKey),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		ContentLength: aws.Int64(partSizeBytes),
	}

	req, err := s.presignClient.PresignUploadPart(ctx, presignParams, s3.WithPresignExpires(expires))
	if err != nil {
		log.Printf("ERROR: Failed to presign part %d for key '%s': %v", partNumber, objectKey, err)
		return PartURL{}, err
	}

	return PartURL{
		URL:       req.URL,
		ExpiresAt: time.Now().Add(expires),
	}, nil
}

// CompleteMultipartUpload assembles uploaded parts and returns the final
// object size.
func (s *s3Storage) CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []AssembledPart) (int64, error) {
	// S3 requires the part list in ascending part number order.
	sorted := make([]AssembledPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completedParts := make([]types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		completedParts = append(completedParts, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.Checksum),
		})
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucketName),
		Key:      aws.String(objectKey),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		log.Printf("ERROR: Failed to complete multipart upload for key '%s': %v", objectKey, err)
		return 0, err
	}

	// The completion response carries no size; ask for the assembled object.
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		log.Printf("ERROR: Failed to read assembled object size for key '%s': %v", objectKey, err)
		return 0, err
	}
	return aws.ToInt64(head.ContentLength), nil
}

// AbortMultipartUpload discards all uploaded parts for the session.
func (s *s3Storage) AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucketName),
		Key:      aws.String(objectKey),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		// An already-discarded (or completed-elsewhere) upload is gone as far
		// as the backend is concerned; treat that as success.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload" {
			return nil
		}
		log.Printf("ERROR: Failed to abort multipart upload for key '%s': %v", objectKey, err)
		return err
	}

	log.Printf("INFO: Aborted multipart upload for key '%s' in bucket '%s'", objectKey, s.bucketName)
	return nil
}
