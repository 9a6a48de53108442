package mbtransport

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/function61/gokit/app/aws/s3facade"
	"github.com/function61/gokit/log/logex"
	"github.com/juju/errors"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

const s3Scheme = "s3://"

// IsS3 tells whether a target server names a bucket instead of an ssh host
func IsS3(server string) bool {
	return strings.HasPrefix(server, s3Scheme)
}

// S3Location is parsed from a target server "s3://bucket[/prefix]"
type S3Location struct {
	Bucket string
	Prefix string // "" or ending in "/"
}

func ParseS3Server(server string) (S3Location, error) {
	if !IsS3(server) {
		return S3Location{}, errors.NotValidf("server %q without %s", server, s3Scheme)
	}

	bucketAndPrefix := strings.TrimPrefix(server, s3Scheme)

	bucket := bucketAndPrefix
	prefix := ""
	if idx := strings.Index(bucketAndPrefix, "/"); idx != -1 {
		bucket = bucketAndPrefix[:idx]
		prefix = strings.Trim(bucketAndPrefix[idx+1:], "/")
	}

	if bucket == "" {
		return S3Location{}, errors.NotValidf("server %q without bucket", server)
	}

	if prefix != "" {
		prefix += "/"
	}

	return S3Location{Bucket: bucket, Prefix: prefix}, nil
}

func (l S3Location) Key(filename string) string {
	return l.Prefix + filename
}

// StoredArchive is an archive already at its destination
type StoredArchive struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// S3 uploads with a Content-MD5, so the store verifies what it received. The
// target's account is the profile in its credential file.
type S3 struct {
	region  string
	certDir string
	logl    *logex.Leveled
}

func NewS3(region string, certDir string, logger *log.Logger) *S3 {
	return &S3{
		region:  region,
		certDir: certDir,
		logl:    logex.Levels(logex.Prefix("s3", logger)),
	}
}

var _ Transport = (*S3)(nil)

func (s *S3) Transmit(ctx context.Context, sourceDir string, target mbtypes.Target) error {
	location, bucket, err := s.bucket(target)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		filePath := filepath.Join(sourceDir, entry.Name())

		if err := s.upload(ctx, bucket, location.Key(entry.Name()), filePath); err != nil {
			return errors.Annotatef(err, "upload %s", entry.Name())
		}

		if err := os.Remove(filePath); err != nil {
			return err
		}

		s.logl.Debug.Printf("uploaded %s", entry.Name())
	}

	return nil
}

func (s *S3) upload(ctx context.Context, bucket *s3facade.BucketContext, key string, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	contentMd5, err := md5Base64(file)
	if err != nil {
		return err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	_, err = bucket.S3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      bucket.Name,
		Key:         aws.String(key),
		ContentType: aws.String("application/x-7z-compressed"),
		ContentMD5:  aws.String(contentMd5),
		Body:        file,
	})
	return err
}

// List returns archives under the target's prefix, oldest first
func (s *S3) List(ctx context.Context, target mbtypes.Target) ([]StoredArchive, error) {
	location, bucket, err := s.bucket(target)
	if err != nil {
		return nil, err
	}

	archives := []StoredArchive{}

	if err := bucket.S3.ListObjectsPagesWithContext(ctx, &s3.ListObjectsInput{
		Bucket: bucket.Name,
		Prefix: aws.String(location.Prefix),
	}, func(page *s3.ListObjectsOutput, _ bool) bool {
		for _, item := range page.Contents {
			archives = append(archives, StoredArchive{
				Key:          aws.StringValue(item.Key),
				Size:         aws.Int64Value(item.Size),
				LastModified: aws.TimeValue(item.LastModified),
			})
		}
		return true
	}); err != nil {
		return nil, err
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].LastModified.Before(archives[j].LastModified) })

	return archives, nil
}

// Get accepts a key relative to the target's prefix or a full key
func (s *S3) Get(ctx context.Context, target mbtypes.Target, key string) (io.ReadCloser, error) {
	location, bucket, err := s.bucket(target)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(key, location.Prefix) {
		key = location.Key(path.Base(key))
	}

	object, err := bucket.S3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: bucket.Name,
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}

	return object.Body, nil
}

func (s *S3) bucket(target mbtypes.Target) (S3Location, *s3facade.BucketContext, error) {
	location, err := ParseS3Server(target.Server)
	if err != nil {
		return location, nil, err
	}

	sharedCredentials := credentials.NewSharedCredentials(
		filepath.Join(s.certDir, target.CertFile),
		target.Account)

	bucket, err := s3facade.Bucket(
		location.Bucket,
		s3facade.Credentials(sharedCredentials),
		s.region)
	if err != nil {
		return location, nil, err
	}

	return location, bucket, nil
}

func md5Base64(content io.Reader) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, content); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}
