package reader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/build"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/metrics"
	"github.com/ragflow/ragflow/node/storage"
)

var log = logging.Logger("reader")

const pdfMIME = "application/pdf"

// errNotPDF marks objects that are skipped rather than failed.
var errNotPDF = terrors.New(terrors.NotPDF, nil)

// Store is the object storage the reader works against.
type Store interface {
	List(ctx context.Context, bucket, skipPrefix string) ([]storage.ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	Fetch(ctx context.Context, bucket, key, dest string) error
	IsProcessed(ctx context.Context, bucket, prefix, key, etag string) (bool, error)
	WriteMarker(ctx context.Context, bucket, prefix, key, etag string) error
	RemoveMarker(ctx context.Context, bucket, prefix, key, etag string) error
	Markers(ctx context.Context, bucket, prefix string) ([]storage.Marker, error)
}

// Options configures a Reader.
type Options struct {
	Bucket          string
	ProcessedPrefix string
	Workers         int

	// RetryFile lists object keys to process instead of listing the bucket.
	RetryFile string
	// FailedLog receives the keys of objects that failed, one per line.
	FailedLog string
	// OutputDir receives a copy of every published TextMessage when set.
	OutputDir string

	Text   config.Route
	Delete config.Route

	PollInterval time.Duration
}

// Summary counts what one ProcessBucket pass did.
type Summary struct {
	Total     int
	Published int
	Skipped   int
	NotPDF    int
	Failed    int
}

func (s Summary) String() string {
	return fmt.Sprintf("total %d, published %d, already processed %d, not pdf %d, failed %d",
		s.Total, s.Published, s.Skipped, s.NotPDF, s.Failed)
}

// Reader turns bucket objects into TextMessages.
type Reader struct {
	store   Store
	pub     broker.Publisher
	ext     Extractor
	metrics *metrics.Metrics
	opts    Options
}

// New returns a Reader. A nil ext uses PDFExtractor.
func New(store Store, pub broker.Publisher, ext Extractor, m *metrics.Metrics, opts Options) *Reader {
	if ext == nil {
		ext = PDFExtractor{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Reader{store: store, pub: pub, ext: ext, metrics: m, opts: opts}
}

// ProcessBucket publishes every object not yet marked as processed.
func (r *Reader) ProcessBucket(ctx context.Context) (Summary, error) {
	var (
		sum     Summary
		objects []storage.ObjectInfo
		failed  []string
		err     error
	)

	if r.opts.RetryFile != "" {
		objects, failed, err = r.retryObjects(ctx)
		if err != nil {
			return sum, err
		}
		if len(objects) == 0 && len(failed) == 0 {
			log.Warnf("no failed objects found in retry file: %s", r.opts.RetryFile)
			return sum, nil
		}
		log.Infof("retry mode: processing %d failed object(s)", len(objects))
	} else {
		objects, err = r.store.List(ctx, r.opts.Bucket, r.opts.ProcessedPrefix)
		if err != nil {
			return sum, err
		}
		if len(objects) == 0 {
			log.Warnf("no objects found in bucket: %s", r.opts.Bucket)
			return sum, nil
		}
	}

	sum.Total = len(objects) + len(failed)
	sum.Failed = len(failed)

	var (
		lk   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan storage.ObjectInfo)
	)

	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for obj := range jobs {
				started := time.Now()
				outcome, err := r.handleObject(ctx, obj)
				r.metrics.Observe(outcome, err, started)

				lk.Lock()
				switch outcome {
				case "published":
					sum.Published++
				case "skipped":
					sum.Skipped++
				case "not_pdf":
					sum.NotPDF++
				default:
					sum.Failed++
					failed = append(failed, obj.Key)
				}
				lk.Unlock()
			}
		}()
	}

feed:
	for _, obj := range objects {
		select {
		case jobs <- obj:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := r.appendFailed(failed); err != nil {
		log.Errorf("write failed log: %s", err.Error())
	}

	log.Infof("finished %s: %s", r.opts.Bucket, sum)
	if errors.Is(ctx.Err(), context.Canceled) {
		return sum, ctx.Err()
	}
	return sum, nil
}

func (r *Reader) handleObject(ctx context.Context, obj storage.ObjectInfo) (string, error) {
	done, err := r.store.IsProcessed(ctx, r.opts.Bucket, r.opts.ProcessedPrefix, obj.Key, obj.ETag)
	if err != nil {
		log.Warnf("marker lookup for %s failed, processing anyway: %s", obj.Key, err.Error())
	}
	if done {
		log.Debugf("skipping %s: already processed at %s", obj.Key, obj.ETag)
		return "skipped", nil
	}

	err = r.ProcessObject(ctx, obj)
	switch {
	case err == nil:
		return "published", nil
	case errors.Is(err, errNotPDF):
		log.Infof("skipping %s: not a pdf", obj.Key)
		return "not_pdf", err
	default:
		log.Errorf("processing failed for %s: %s", obj.Key, err.Error())
		return "failed", err
	}
}

// ProcessObject downloads, extracts and publishes one object, then writes
// its processed marker.
func (r *Reader) ProcessObject(ctx context.Context, obj storage.ObjectInfo) error {
	tmp, err := os.CreateTemp("", "ragflow-*.pdf")
	if err != nil {
		return err
	}
	tmp.Close()                 //nolint:errcheck
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := r.store.Fetch(ctx, r.opts.Bucket, obj.Key, tmp.Name()); err != nil {
		return terrors.New(terrors.DownloadFailed, err)
	}

	mt, err := mimetype.DetectFile(tmp.Name())
	if err != nil {
		return terrors.New(terrors.DownloadFailed, err)
	}
	if !mt.Is(pdfMIME) {
		log.Debugf("%s detected as %s", obj.Key, mt.String())
		return errNotPDF
	}

	doc, err := r.ext.Extract(tmp.Name())
	if err != nil {
		return terrors.New(terrors.ExtractFailed, err)
	}

	msg := types.TextMessage{
		Schema:   build.SchemaVersion,
		Source:   types.Source{Bucket: r.opts.Bucket, Object: obj.Key, ETag: obj.ETag},
		Metadata: doc.Metadata,
		Text:     doc.Text,
	}

	if r.opts.OutputDir != "" {
		if err := r.writeOutput(&msg); err != nil {
			log.Warnf("write output for %s: %s", obj.Key, err.Error())
		}
	}

	id := fmt.Sprintf("%s/%s@%s", r.opts.Bucket, obj.Key, obj.ETag)
	if err := r.pub.Publish(ctx, r.opts.Text, msg, id); err != nil {
		return terrors.New(terrors.PublishFailed, err)
	}
	log.Infof("published %s", obj.Key)

	if err := r.store.WriteMarker(ctx, r.opts.Bucket, r.opts.ProcessedPrefix, obj.Key, obj.ETag); err != nil {
		log.Warnf("write processed marker for %s: %s", obj.Key, err.Error())
	}
	return nil
}

// Reconcile publishes a DeletionMessage for every marker whose object was
// removed or replaced, then drops the marker. It returns the number of
// deletions published.
func (r *Reader) Reconcile(ctx context.Context) (int, error) {
	markers, err := r.store.Markers(ctx, r.opts.Bucket, r.opts.ProcessedPrefix)
	if err != nil {
		return 0, err
	}
	if len(markers) == 0 {
		return 0, nil
	}

	objects, err := r.store.List(ctx, r.opts.Bucket, r.opts.ProcessedPrefix)
	if err != nil {
		return 0, err
	}
	current := make(map[string]string, len(objects))
	for _, o := range objects {
		current[o.Key] = o.ETag
	}

	n := 0
	for _, m := range markers {
		etag, ok := current[m.Key]
		if ok && etag == m.ETag {
			continue
		}

		reason := types.DeletionRemoved
		if ok {
			reason = types.DeletionReplaced
		}

		src := types.Source{Bucket: r.opts.Bucket, Object: m.Key, ETag: m.ETag}
		msg := types.DeletionMessage{
			Schema: build.SchemaVersion,
			Source: src,
			DocID:  types.DocID(src, ""),
			Reason: reason,
		}
		id := fmt.Sprintf("%s/%s@%s#delete", r.opts.Bucket, m.Key, m.ETag)
		if err := r.pub.Publish(ctx, r.opts.Delete, msg, id); err != nil {
			return n, xerrors.Errorf("publish deletion for %s: %w", m.Key, err)
		}
		if err := r.store.RemoveMarker(ctx, r.opts.Bucket, r.opts.ProcessedPrefix, m.Key, m.ETag); err != nil {
			return n, xerrors.Errorf("remove marker for %s: %w", m.Key, err)
		}

		log.Infof("%s %s@%s, deletion published", reason, m.Key, m.ETag)
		n++
	}

	r.metrics.Add("deletions_published", n)
	return n, nil
}

// Watch runs ProcessBucket and Reconcile now, then on every poll interval
// and every bucket notification outside the marker prefix, until ctx ends.
// events may be nil.
func (r *Reader) Watch(ctx context.Context, events <-chan storage.Event) error {
	interval := r.opts.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	markerDir := strings.Trim(r.opts.ProcessedPrefix, "/") + "/"

	for {
		r.pass(ctx)

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				break wait
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if strings.HasPrefix(ev.Key, markerDir) {
					continue
				}
				log.Debugf("bucket event %s on %s", ev.Name, ev.Key)
				break wait
			}
		}
	}
}

func (r *Reader) pass(ctx context.Context) {
	if _, err := r.ProcessBucket(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("process bucket: %s", err.Error())
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := r.Reconcile(ctx); err != nil {
		log.Errorf("reconcile: %s", err.Error())
	}
}

func (r *Reader) retryObjects(ctx context.Context) ([]storage.ObjectInfo, []string, error) {
	path, err := homedir.Expand(r.opts.RetryFile)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, xerrors.Errorf("open retry file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var (
		objects []storage.ObjectInfo
		failed  []string
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key == "" {
			continue
		}
		obj, err := r.store.Stat(ctx, r.opts.Bucket, key)
		if err != nil {
			log.Errorf("stat %s: %s", key, err.Error())
			failed = append(failed, key)
			continue
		}
		objects = append(objects, obj)
	}
	return objects, failed, sc.Err()
}

func (r *Reader) appendFailed(keys []string) error {
	if r.opts.FailedLog == "" || len(keys) == 0 {
		return nil
	}
	path, err := homedir.Expand(r.opts.FailedLog)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	w := bufio.NewWriter(f)
	for _, k := range keys {
		fmt.Fprintln(w, k) //nolint:errcheck
	}
	return w.Flush()
}

func (r *Reader) writeOutput(msg *types.TextMessage) error {
	dir, err := homedir.Expand(r.opts.OutputDir)
	if err != nil {
		return err
	}
	path, err := outputPath(dir, msg.Source.Object)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(msg, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// outputPath maps an object key to its dump file under dir. Keys that would
// resolve outside dir are rejected.
func outputPath(dir, key string) (string, error) {
	path := filepath.Join(dir, filepath.Clean(filepath.FromSlash(key))+"_processed.json")
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", xerrors.Errorf("object key %q escapes output dir %s", key, dir)
	}
	return path, nil
}
