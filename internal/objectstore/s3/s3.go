// Package s3 implements the objectstore.Store contract against an
// S3-compatible backend using the AWS SDK for Go v2, switching to
// multipart upload above a configurable size threshold and retrying
// transient failures with exponential backoff and full jitter.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/ringbackup/sidecar/internal/constants"
	"github.com/ringbackup/sidecar/internal/objectstore"
	"github.com/ringbackup/sidecar/internal/retry"
)

// Store adapts an S3 client to the objectstore.Store contract.
type Store struct {
	client             *s3.Client
	bucket             string
	multipartThreshold int64
	partSize           int64
	retryPolicy        retry.Policy
	concurrency        int
}

// Config configures a Store.
type Config struct {
	Bucket             string
	Region             string
	MultipartThreshold int64 // defaults to constants.MultipartThreshold
	PartSize           int64 // defaults to constants.ChunkSize
	MaxRetries         int   // defaults to constants.DefaultMaxRetries
	PartConcurrency    int   // defaults to 4
}

// New builds a Store using default AWS credential chain resolution (env,
// shared config, IAM role) for the given region.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, objectstore.WrapPermanent("s3.New", err)
	}

	threshold := cfg.MultipartThreshold
	if threshold <= 0 {
		threshold = constants.MultipartThreshold
	}
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = constants.ChunkSize
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = constants.DefaultMaxRetries
	}
	concurrency := cfg.PartConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Store{
		client:             s3.NewFromConfig(awsCfg),
		bucket:             cfg.Bucket,
		multipartThreshold: threshold,
		partSize:           partSize,
		retryPolicy: retry.Policy{
			MaxAttempts: retries,
			BaseDelay:   constants.DefaultRetryBaseDelay,
			MaxDelay:    constants.DefaultRetryMaxDelay,
		},
		concurrency: concurrency,
	}, nil
}

// partSizeFor computes max(configured, MinPartSize, ceil(size/MaxParts)),
// never exceeding the backend's maximum part size.
func partSizeFor(size, configured int64) int64 {
	ps := configured
	minRequired := int64(math.Ceil(float64(size) / float64(constants.MaxParts)))
	if minRequired > ps {
		ps = minRequired
	}
	if ps < constants.MinPartSize {
		ps = constants.MinPartSize
	}
	if ps > constants.MaxS3PartSize {
		ps = constants.MaxS3PartSize
	}
	return ps
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (objectstore.PutResult, error) {
	if size > s.multipartThreshold {
		return s.putMultipart(ctx, key, r, size, metadata)
	}
	return s.putSingle(ctx, key, r, size, metadata)
}

func (s *Store) putSingle(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (objectstore.PutResult, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return objectstore.PutResult{}, objectstore.WrapTransient("s3.Put.read", err)
	}

	var result objectstore.PutResult
	err = retry.Do(ctx, s.retryPolicy, "s3.Put", func() error {
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			Body:     bytes.NewReader(buf),
			Metadata: metadata,
		})
		if err != nil {
			return err
		}
		result = objectstore.PutResult{ETag: aws.ToString(out.ETag), Size: int64(len(buf))}
		return nil
	})
	if err != nil {
		return objectstore.PutResult{}, err
	}
	return result, nil
}

func (s *Store) putMultipart(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (objectstore.PutResult, error) {
	partSize := partSizeFor(size, s.partSize)

	var uploadID string
	err := retry.Do(ctx, s.retryPolicy, "s3.CreateMultipartUpload", func() error {
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			Metadata: metadata,
		})
		if err != nil {
			return err
		}
		uploadID = aws.ToString(out.UploadId)
		return nil
	})
	if err != nil {
		return objectstore.PutResult{}, err
	}

	parts, total, err := s.uploadParts(ctx, key, uploadID, r, partSize)
	if err != nil {
		s.abortMultipart(context.Background(), key, uploadID)
		return objectstore.PutResult{}, err
	}

	var etag string
	err = retry.Do(ctx, s.retryPolicy, "s3.CompleteMultipartUpload", func() error {
		out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		if err != nil {
			return err
		}
		etag = aws.ToString(out.ETag)
		return nil
	})
	if err != nil {
		return objectstore.PutResult{}, err
	}

	return objectstore.PutResult{ETag: etag, Size: total}, nil
}

// uploadParts reads r in partSize chunks and uploads each part, bounded by
// s.concurrency. Any part failure cancels siblings via ctx and returns the
// first error; the caller is responsible for aborting the multipart upload.
func (s *Store) uploadParts(ctx context.Context, key, uploadID string, r io.Reader, partSize int64) ([]types.CompletedPart, int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var parts []types.CompletedPart
	var firstErr error
	var total int64

	partNum := int32(0)
	for {
		buf := make([]byte, partSize)
		n, readErr := io.ReadFull(r, buf)
		if n == 0 && (readErr == io.EOF || readErr == io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			cancel()
			wg.Wait()
			return nil, 0, objectstore.WrapTransient("s3.uploadParts.read", readErr)
		}

		partNum++
		pn := partNum
		data := buf[:n]
		total += int64(n)

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			var etag string
			err := retry.Do(ctx, s.retryPolicy, "s3.UploadPart", func() error {
				out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
					Bucket:     aws.String(s.bucket),
					Key:        aws.String(key),
					UploadId:   aws.String(uploadID),
					PartNumber: aws.Int32(pn),
					Body:       bytes.NewReader(data),
				})
				if err != nil {
					return err
				}
				etag = aws.ToString(out.ETag)
				return nil
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			parts = append(parts, types.CompletedPart{ETag: aws.String(etag), PartNumber: aws.Int32(pn)})
		}()

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}

	sortParts(parts)
	return parts, total, nil
}

func sortParts(parts []types.CompletedPart) {
	for i := 1; i < len(parts); i++ {
		for j := i; j > 0 && aws.ToInt32(parts[j-1].PartNumber) > aws.ToInt32(parts[j].PartNumber); j-- {
			parts[j-1], parts[j] = parts[j], parts[j-1]
		}
	}
}

func (s *Store) abortMultipart(ctx context.Context, key, uploadID string) {
	_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if found, err := s.Exists(ctx, key); err == nil && !found {
		return nil, objectstore.ErrNotFound
	}

	var body io.ReadCloser
	err := retry.Do(ctx, s.retryPolicy, "s3.Get", func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Store) List(ctx context.Context, prefix string, fn func(objectstore.ObjectInfo) bool) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("s3.List", err)
		}
		for _, obj := range page.Contents {
			info := objectstore.ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			if !fn(info) {
				return nil
			}
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, s.retryPolicy, "s3.Delete", func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify("s3.Exists", err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// classify maps an AWS SDK error to the core's error-kind taxonomy, used for
// the single-shot Exists/List calls that don't go through retry.Do.
func classify(op string, err error) error {
	if isNotFound(err) {
		return objectstore.ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorFault() {
		case smithy.FaultServer:
			return objectstore.WrapTransient(op, err)
		case smithy.FaultClient:
			return objectstore.WrapPermanent(op, err)
		}
	}
	return objectstore.WrapTransient(op, err)
}
