package release

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/deskthing-dev/deskthing/internal/errors"
)

// Uploader publishes packaged releases to an S3 bucket so the update
// checker in deployed servers can find them.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// UploaderOptions configures an Uploader.
type UploaderOptions struct {
	Bucket string
	Region string
	Prefix string
}

// NewUploader builds an Uploader with credentials taken from the standard
// AWS environment variables.
func NewUploader(opts UploaderOptions) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, errors.New("E402").WithDetail("no bucket configured")
	}

	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("E402").WithDetail("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	sessionToken := os.Getenv("AWS_SESSION_TOKEN")

	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	client := s3.New(s3.Options{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKey,
				SecretAccessKey: secretKey,
				SessionToken:    sessionToken,
				Source:          "environment",
			}, nil
		}),
	})

	return &Uploader{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

// Upload publishes the archive and its metadata. The metadata goes last so
// an update checker never sees a descriptor for a missing archive.
func (u *Uploader) Upload(ctx context.Context, artifact *Artifact) error {
	if err := u.putFile(ctx, Key(u.prefix, artifact.ArchiveName()), artifact.ArchivePath, "application/zip"); err != nil {
		return errors.New("E402").Wrap(err)
	}
	if err := u.putFile(ctx, Key(u.prefix, metadataFileName), artifact.MetadataPath, "application/json"); err != nil {
		return errors.New("E402").Wrap(err)
	}
	return nil
}

func (u *Uploader) putFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	return err
}
