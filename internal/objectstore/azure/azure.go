// Package azure implements the objectstore.Store contract against Azure
// Blob Storage using block blobs, switching to staged blocks above a
// configurable size threshold.
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/ringbackup/sidecar/internal/constants"
	"github.com/ringbackup/sidecar/internal/objectstore"
	"github.com/ringbackup/sidecar/internal/retry"
)

// Store adapts an Azure Blob container to the objectstore.Store contract.
type Store struct {
	client             *azblob.Client
	container          string
	multipartThreshold int64
	blockSize          int64
	retryPolicy        retry.Policy
	concurrency        int
}

// Config configures a Store.
type Config struct {
	AccountURL         string // e.g. https://<account>.blob.core.windows.net
	Container          string
	MultipartThreshold int64
	BlockSize          int64
	MaxRetries         int
	BlockConcurrency   int
}

// New builds a Store using Azure's default credential chain.
func New(ctx context.Context, cfg Config, cred azcore.TokenCredential) (*Store, error) {
	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, objectstore.WrapPermanent("azure.New", err)
	}

	threshold := cfg.MultipartThreshold
	if threshold <= 0 {
		threshold = constants.MultipartThreshold
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = constants.ChunkSize
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = constants.DefaultMaxRetries
	}
	concurrency := cfg.BlockConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Store{
		client:             client,
		container:          cfg.Container,
		multipartThreshold: threshold,
		blockSize:          blockSize,
		retryPolicy: retry.Policy{
			MaxAttempts: retries,
			BaseDelay:   constants.DefaultRetryBaseDelay,
			MaxDelay:    constants.DefaultRetryMaxDelay,
		},
		concurrency: concurrency,
	}, nil
}

func blockSizeFor(size, configured int64) int64 {
	bs := configured
	minRequired := int64(math.Ceil(float64(size) / float64(constants.MaxParts)))
	if minRequired > bs {
		bs = minRequired
	}
	if bs < constants.MinAzureBlockSize {
		bs = constants.MinAzureBlockSize
	}
	if bs > constants.MaxAzureBlockSize {
		bs = constants.MaxAzureBlockSize
	}
	return bs
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (objectstore.PutResult, error) {
	if size > s.multipartThreshold {
		return s.putStaged(ctx, key, r, size, metadata)
	}
	return s.putSingle(ctx, key, r, size, metadata)
}

func (s *Store) putSingle(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (objectstore.PutResult, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return objectstore.PutResult{}, objectstore.WrapTransient("azure.Put.read", err)
	}

	meta := toAzureMetadata(metadata)
	var etag string
	err = retry.Do(ctx, s.retryPolicy, "azure.Put", func() error {
		out, err := s.client.UploadBuffer(ctx, s.container, key, buf, &azblob.UploadBufferOptions{Metadata: meta})
		if err != nil {
			return err
		}
		if out.ETag != nil {
			etag = string(*out.ETag)
		}
		return nil
	})
	if err != nil {
		return objectstore.PutResult{}, err
	}
	return objectstore.PutResult{ETag: etag, Size: int64(len(buf))}, nil
}

func (s *Store) putStaged(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (objectstore.PutResult, error) {
	blockSize := blockSizeFor(size, s.blockSize)
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlockBlobClient(key)

	blockIDs, total, err := s.stageBlocks(ctx, blobClient, r, blockSize)
	if err != nil {
		return objectstore.PutResult{}, err
	}

	meta := toAzureMetadata(metadata)
	var etag string
	err = retry.Do(ctx, s.retryPolicy, "azure.CommitBlockList", func() error {
		out, err := blobClient.CommitBlockList(ctx, blockIDs, &blockblob.CommitBlockListOptions{Metadata: meta})
		if err != nil {
			return err
		}
		if out.ETag != nil {
			etag = string(*out.ETag)
		}
		return nil
	})
	if err != nil {
		return objectstore.PutResult{}, err
	}
	return objectstore.PutResult{ETag: etag, Size: total}, nil
}

func (s *Store) stageBlocks(ctx context.Context, blobClient *blockblob.Client, r io.Reader, blockSize int64) ([]string, int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var blockIDs []string
	var firstErr error
	var total int64

	for {
		buf := make([]byte, blockSize)
		n, readErr := io.ReadFull(r, buf)
		if n == 0 && (readErr == io.EOF || readErr == io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			cancel()
			wg.Wait()
			return nil, 0, objectstore.WrapTransient("azure.stageBlocks.read", readErr)
		}

		blockID := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%032d", len(blockIDs))))
		blockIDs = append(blockIDs, blockID)
		data := buf[:n]
		total += int64(n)

		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := retry.Do(ctx, s.retryPolicy, "azure.StageBlock", func() error {
				_, err := blobClient.StageBlock(ctx, id, streamingBody(data), nil)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
				cancel()
			}
		}(blockID)

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}
	return blockIDs, total, nil
}

func streamingBody(data []byte) io.ReadSeekCloser {
	return nopCloseSeeker{bytes.NewReader(data)}
}

type nopCloseSeeker struct{ *bytes.Reader }

func (nopCloseSeeker) Close() error { return nil }

func toAzureMetadata(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		val := v
		out[k] = &val
	}
	return out
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := retry.Do(ctx, s.retryPolicy, "azure.Get", func() error {
		out, err := s.client.DownloadStream(ctx, s.container, key, nil)
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objectstore.ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (s *Store) List(ctx context.Context, prefix string, fn func(objectstore.ObjectInfo) bool) error {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return classify("azure.List", err)
		}
		for _, item := range page.Segment.BlobItems {
			info := objectstore.ObjectInfo{Key: *item.Name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					info.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					info.ModTime = *item.Properties.LastModified
				}
			}
			if !fn(info) {
				return nil
			}
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, s.retryPolicy, "azure.Delete", func() error {
		_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
		if err != nil && isNotFound(err) {
			return nil
		}
		return err
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
	_, err := blobClient.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify("azure.Exists", err)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.ErrorCode == string(bloberror.BlobNotFound) || respErr.StatusCode == 404
	}
	return false
}

func classify(op string, err error) error {
	if isNotFound(err) {
		return objectstore.ErrNotFound
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode >= 500 || respErr.StatusCode == 429 {
			return objectstore.WrapTransient(op, err)
		}
		return objectstore.WrapPermanent(op, err)
	}
	return objectstore.WrapTransient(op, err)
}
