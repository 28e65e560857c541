package repository

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/iterator"

	"chat-relay/internal/domain"
)

const gcsObjectSuffix = ".json"

// objectAPI is the subset of bucket operations GCSClient needs.
type objectAPI interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// gcsDocument is the JSON body of one history object.
type gcsDocument struct {
	Turns     domain.History `json:"turns"`
	UpdatedAt string         `json:"updatedAt"`
}

// GCSClient stores each history document as a JSON object named
// "<collection>/<key>.json" in a Cloud Storage bucket.
type GCSClient struct {
	objects objectAPI
	now     func() time.Time
}

var _ Store = (*GCSClient)(nil)

// NewGCS wraps a bucket handle from an already constructed storage client.
func NewGCS(bucket *storage.BucketHandle) (*GCSClient, error) {
	if bucket == nil {
		return nil, errors.New("repository: bucket must not be nil")
	}
	return newGCS(&bucketObjects{bucket: bucket})
}

func newGCS(objects objectAPI) (*GCSClient, error) {
	if objects == nil {
		return nil, errors.New("repository: object api must not be nil")
	}
	return &GCSClient{objects: objects, now: time.Now}, nil
}

func objectName(collection, key string) string {
	return strings.TrimRight(collection, "/") + "/" + key + gcsObjectSuffix
}

func (c *GCSClient) Get(ctx context.Context, collection, key string) (domain.History, bool, error) {
	if err := validateAddress(collection, key); err != nil {
		return nil, false, errors.Wrap(err, "repository: Get")
	}

	raw, err := c.objects.Read(ctx, objectName(collection, key))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "repository: Get read object")
	}

	var doc gcsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, errors.Wrap(err, "repository: Get decode")
	}
	if doc.Turns == nil {
		doc.Turns = domain.History{}
	}
	return doc.Turns, true, nil
}

func (c *GCSClient) Put(ctx context.Context, collection, key string, history domain.History) error {
	if err := validateAddress(collection, key); err != nil {
		return errors.Wrap(err, "repository: Put")
	}

	raw, err := json.Marshal(gcsDocument{
		Turns:     history,
		UpdatedAt: c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Wrap(err, "repository: Put encode")
	}
	if err := c.objects.Write(ctx, objectName(collection, key), raw); err != nil {
		return errors.Wrap(err, "repository: Put")
	}
	return nil
}

func (c *GCSClient) Delete(ctx context.Context, collection, key string) error {
	if err := validateAddress(collection, key); err != nil {
		return errors.Wrap(err, "repository: Delete")
	}

	err := c.objects.Delete(ctx, objectName(collection, key))
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(err, "repository: Delete")
	}
	return nil
}

// ListKeys returns the keys of the objects directly under collection.
// Nested collections are not descended into.
func (c *GCSClient) ListKeys(ctx context.Context, collection string) ([]string, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("repository: ListKeys: collection is required")
	}

	prefix := strings.TrimRight(collection, "/") + "/"
	names, err := c.objects.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "repository: ListKeys")
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		rest := strings.TrimPrefix(name, prefix)
		if rest == name || strings.Contains(rest, "/") || !strings.HasSuffix(rest, gcsObjectSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(rest, gcsObjectSuffix))
	}
	return keys, nil
}

// bucketObjects adapts a *storage.BucketHandle to objectAPI.
type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b *bucketObjects) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (b *bucketObjects) Write(ctx context.Context, name string, data []byte) error {
	w := b.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *bucketObjects) Delete(ctx context.Context, name string) error {
	return b.bucket.Object(name).Delete(ctx)
}

func (b *bucketObjects) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		// Synthetic directory entries carry only Prefix.
		if attrs.Name != "" {
			names = append(names, attrs.Name)
		}
	}
}
