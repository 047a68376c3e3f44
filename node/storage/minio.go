package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/madmin-go/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/lib/limiter"
	"github.com/ragflow/ragflow/node/config"
)

var log = logging.Logger("storage")

const (
	eventObjectCreated = "s3:ObjectCreated:*"
	eventObjectRemoved = "s3:ObjectRemoved:*"

	fetchAttempts   = 4
	fetchBackoffMin = time.Second
	fetchBackoffMax = 8 * time.Second
)

// ErrNotFound is returned by Stat when the object does not exist.
var ErrNotFound = xerrors.New("object not found")

// ObjectInfo is the subset of object attributes the pipeline uses.
type ObjectInfo struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// Event is a bucket notification.
type Event struct {
	Name    string
	Key     string
	Removed bool
}

// Store wraps the S3 and admin clients of one MinIO deployment.
type Store struct {
	s3Client    *minio.Client
	adminClient *madmin.AdminClient
	limiter     *rate.Limiter
}

// New connects to the endpoint in cfg. bandwidth caps downloads in bytes per
// second, 0 leaves them unlimited.
func New(cfg config.MinioCfg, bandwidth int64) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s3Client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, xerrors.Errorf("minio client: %w", err)
	}

	adminClient, err := madmin.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Secure)
	if err != nil {
		return nil, xerrors.Errorf("minio admin client: %w", err)
	}

	return &Store{
		s3Client:    s3Client,
		adminClient: adminClient,
		limiter:     limiter.NewLimiter(bandwidth),
	}, nil
}

// BucketExists reports whether bucket exists.
func (s *Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return s.s3Client.BucketExists(ctx, bucket)
}

// List returns every object in bucket except those under skipPrefix.
func (s *Store) List(ctx context.Context, bucket, skipPrefix string) ([]ObjectInfo, error) {
	skip := markerDir(skipPrefix)

	var out []ObjectInfo
	for obj := range s.s3Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, xerrors.Errorf("list %s: %w", bucket, obj.Err)
		}
		if skipPrefix != "" && hasDirPrefix(obj.Key, skip) {
			continue
		}
		out = append(out, toInfo(obj))
	}
	return out, nil
}

// Stat returns the attributes of one object, or ErrNotFound.
func (s *Store) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	obj, err := s.s3Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, err
	}
	return toInfo(obj), nil
}

// Fetch downloads bucket/key into dest, retrying with exponential backoff.
func (s *Store) Fetch(ctx context.Context, bucket, key, dest string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = fetchBackoffMin
	bo.MaxInterval = fetchBackoffMax
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := s.fetchOnce(ctx, bucket, key, dest)
		if err == nil {
			return nil
		}
		if isNoSuchKey(err) {
			return backoff.Permanent(ErrNotFound)
		}
		log.Warnf("download %s/%s attempt %d/%d failed: %s", bucket, key, attempt, fetchAttempts, err.Error())
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, fetchAttempts-1), ctx))
}

func (s *Store) fetchOnce(ctx context.Context, bucket, key, dest string) error {
	obj, err := s.s3Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close() //nolint:errcheck

	f, err := os.Create(dest)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer f.Close() //nolint:errcheck

	if _, err = io.Copy(f, limiter.NewReader(ctx, obj, s.limiter)); err != nil {
		return err
	}
	return f.Sync()
}

// IsProcessed reports whether the marker for key at etag exists.
func (s *Store) IsProcessed(ctx context.Context, bucket, prefix, key, etag string) (bool, error) {
	_, err := s.s3Client.StatObject(ctx, bucket, MarkerKey(prefix, key, etag), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

// WriteMarker records key at etag as processed.
func (s *Store) WriteMarker(ctx context.Context, bucket, prefix, key, etag string) error {
	_, err := s.s3Client.PutObject(ctx, bucket, MarkerKey(prefix, key, etag), bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType:  "text/plain",
		UserMetadata: map[string]string{"source": key, "etag": etag},
	})
	return err
}

// RemoveMarker deletes the marker for key at etag.
func (s *Store) RemoveMarker(ctx context.Context, bucket, prefix, key, etag string) error {
	return s.s3Client.RemoveObject(ctx, bucket, MarkerKey(prefix, key, etag), minio.RemoveObjectOptions{})
}

// Markers lists every marker under prefix. Keys that do not parse are
// logged and skipped.
func (s *Store) Markers(ctx context.Context, bucket, prefix string) ([]Marker, error) {
	var out []Marker
	opts := minio.ListObjectsOptions{Prefix: markerDir(prefix), Recursive: true}
	for obj := range s.s3Client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, xerrors.Errorf("list markers: %w", obj.Err)
		}
		m, err := ParseMarker(prefix, obj.Key)
		if err != nil {
			log.Warnf("skipping %s: %s", obj.Key, err.Error())
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Usage returns the raw capacity and raw usage in bytes summed over every
// erasure set.
func (s *Store) Usage(ctx context.Context) (capacity, usage uint64, err error) {
	info, err := s.adminClient.ServerInfo(ctx)
	if err != nil {
		return 0, 0, xerrors.Errorf("minio admin server info: %w", err)
	}

	for _, pool := range info.Pools {
		for _, erasureSet := range pool {
			capacity += erasureSet.RawCapacity
			usage += erasureSet.RawUsage
		}
	}
	return capacity, usage, nil
}

// Listen streams created/removed notifications for bucket until ctx ends.
func (s *Store) Listen(ctx context.Context, bucket string) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		infos := s.s3Client.ListenBucketNotification(ctx, bucket, "", "", []string{
			eventObjectCreated,
			eventObjectRemoved,
		})

		for info := range infos {
			if info.Err != nil {
				log.Error("ListenBucketNotification error ", info.Err.Error())
				continue
			}

			for _, rec := range info.Records {
				ev := Event{
					Name:    rec.EventName,
					Key:     rec.S3.Object.Key,
					Removed: strings.HasPrefix(rec.EventName, "s3:ObjectRemoved"),
				}
				log.Debugf("listen event %s, bucket %s, object %s", ev.Name, rec.S3.Bucket.Name, ev.Key)

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func toInfo(obj minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          obj.Key,
		ETag:         obj.ETag,
		Size:         obj.Size,
		LastModified: obj.LastModified,
	}
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
