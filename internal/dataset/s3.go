package dataset

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher pulls source spreadsheets from an S3 drop bucket.
type S3Fetcher struct {
	client S3API
	bucket string
}

func NewS3Fetcher(client S3API, bucket string) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket}
}

// Fetch downloads an object and parses it by extension (.csv or .xlsx).
// sheet is only consulted for workbooks.
func (f *S3Fetcher) Fetch(ctx context.Context, key, sheet string) (*Table, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("dataset: fetch s3://%s/%s: %w", f.bucket, key, err)
	}
	defer out.Body.Close()

	return ReadAuto(out.Body, key, sheet)
}

// ReadAuto picks a reader from the file extension.
func ReadAuto(r io.Reader, name, sheet string) (*Table, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".txt", "":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, sheet)
	default:
		return nil, fmt.Errorf("dataset: unsupported file type %q", path.Ext(name))
	}
}
