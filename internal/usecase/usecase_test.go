package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/vision-pipeline/internal/gcs"
	"github.com/example/vision-pipeline/internal/imaging"
	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/model"
	"github.com/example/vision-pipeline/internal/notify"
	"github.com/example/vision-pipeline/internal/repository"
	"github.com/example/vision-pipeline/internal/retry"
)

var fastRetry = retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type stubPublisher struct {
	mu       sync.Mutex
	id       string
	err      error
	payloads []any
}

func (s *stubPublisher) Publish(_ context.Context, payload any, _ map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return s.id, s.err
}

type stubClassifier struct {
	pred  model.Prediction
	err   error
	calls int
}

func (s *stubClassifier) Classify(_ context.Context, img image.Image) (*model.Prediction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p := s.pred
	return &p, nil
}

type stubCache struct {
	values  map[string][]byte
	setErrs []error
	getErrs []error
	setKeys []string
}

func newStubCache() *stubCache { return &stubCache{values: map[string][]byte{}} }

func (s *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	s.values[key] = value
	return nil
}

func (s *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	v, ok := s.values[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

type stubRepository struct {
	logs    []*repository.PredictionLog
	saveErr error
	agg     *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(_ context.Context, log *repository.PredictionLog) error {
	s.logs = append(s.logs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestID(_ context.Context, requestID string) (*repository.PredictionLog, error) {
	for _, log := range s.logs {
		if log.RequestID == requestID {
			return log, nil
		}
	}
	return nil, repository.ErrLogNotFound
}

func (s *stubRepository) AggregateMetrics(context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return nil, errors.New("no data")
	}
	return s.agg, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func TestPreprocessStoresTargetSizeJPEG(t *testing.T) {
	store := gcs.NewMemoryStore()
	uc := NewPreprocessUseCase(store, nil, "images", imaging.DefaultOptions(), zap.NewNop())

	res, err := uc.Preprocess(context.Background(), "req-1", pngBytes(t, 500, 300))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MessageID != "" {
		t.Fatalf("expected no message id without publisher, got %q", res.MessageID)
	}

	path, err := gcs.ParsePath(res.GCSPath)
	if err != nil {
		t.Fatalf("invalid returned path %q: %v", res.GCSPath, err)
	}
	if path.Bucket != "images" {
		t.Fatalf("unexpected bucket %q", path.Bucket)
	}
	data, err := store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("stored object missing: %v", err)
	}
	cfg, format, err := imaging.Config(data)
	if err != nil || format != "jpeg" || cfg.Width != 224 || cfg.Height != 224 {
		t.Fatalf("unexpected stored image: %+v %s %v", cfg, format, err)
	}
	if ct, _ := store.ContentType(path); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestPreprocessGeneratesDistinctKeys(t *testing.T) {
	store := gcs.NewMemoryStore()
	uc := NewPreprocessUseCase(store, nil, "images", imaging.DefaultOptions(), zap.NewNop())
	data := pngBytes(t, 32, 32)

	first, err := uc.Preprocess(context.Background(), "a", data)
	if err != nil {
		t.Fatal(err)
	}
	second, err := uc.Preprocess(context.Background(), "b", data)
	if err != nil {
		t.Fatal(err)
	}
	if first.GCSPath == second.GCSPath || store.Len() != 2 {
		t.Fatalf("expected two distinct objects, got %s and %s", first.GCSPath, second.GCSPath)
	}
}

func TestPreprocessRejectsCorruptImage(t *testing.T) {
	store := gcs.NewMemoryStore()
	uc := NewPreprocessUseCase(store, nil, "images", imaging.DefaultOptions(), zap.NewNop())

	_, err := uc.Preprocess(context.Background(), "req", []byte("garbage"))
	if !errors.Is(err, imaging.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if logging.OperationOf(err) != "imaging.normalize" {
		t.Fatalf("unexpected operation %q", logging.OperationOf(err))
	}
	if store.Len() != 0 {
		t.Fatal("nothing should be stored for a corrupt upload")
	}
}

func TestPreprocessPublishesNotification(t *testing.T) {
	pub := &stubPublisher{id: "m-1"}
	uc := NewPreprocessUseCase(gcs.NewMemoryStore(), pub, "images", imaging.DefaultOptions(), zap.NewNop())

	res, err := uc.Preprocess(context.Background(), "req", pngBytes(t, 64, 64))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MessageID != "m-1" {
		t.Fatalf("expected message id m-1, got %q", res.MessageID)
	}
	msg, ok := pub.payloads[0].(notify.PreprocessedMessage)
	if !ok || msg.GCSPath != res.GCSPath {
		t.Fatalf("unexpected payload %+v", pub.payloads[0])
	}
}

func TestPreprocessSurfacesPublishTimeout(t *testing.T) {
	pub := &stubPublisher{err: notify.ErrPublishTimeout}
	uc := NewPreprocessUseCase(gcs.NewMemoryStore(), pub, "images", imaging.DefaultOptions(), zap.NewNop())

	res, err := uc.Preprocess(context.Background(), "req", pngBytes(t, 64, 64))
	if !errors.Is(err, notify.ErrPublishTimeout) {
		t.Fatalf("expected ErrPublishTimeout, got %v", err)
	}
	if res == nil || res.GCSPath == "" {
		t.Fatal("expected the stored path alongside the publish error")
	}
}

func seedImage(t *testing.T, store *gcs.MemoryStore, raw string, data []byte) {
	t.Helper()
	p, err := gcs.ParsePath(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), p, data, "image/jpeg"); err != nil {
		t.Fatal(err)
	}
}

func TestClassifyReturnsPrediction(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 80, 60))
	repo := &stubRepository{}
	clf := &stubClassifier{pred: model.Prediction{Label: "tabby", Confidence: 0.83, ClassIndex: 281}}
	uc := NewClassifyUseCase(store, clf, zap.NewNop(), WithRepository(repo))

	pred, err := uc.Classify(context.Background(), "req", "gs://images/a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.Label != "tabby" || pred.Confidence != 0.83 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if len(repo.logs) != 1 || repo.logs[0].Source != repository.SourceHTTP || repo.logs[0].GCSPath != "gs://images/a.jpg" {
		t.Fatalf("expected one http prediction log, got %+v", repo.logs)
	}
}

func TestClassifyErrors(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/corrupt.jpg", []byte("not an image"))

	cases := []struct {
		name string
		path string
		clf  *stubClassifier
		want error
		op   string
	}{
		{name: "scheme", path: "http://images/a.jpg", clf: &stubClassifier{}, want: gcs.ErrInvalidScheme, op: "gcs.parse_path"},
		{name: "malformed", path: "gs://images", clf: &stubClassifier{}, want: gcs.ErrMalformedPath, op: "gcs.parse_path"},
		{name: "missing", path: "gs://images/none.jpg", clf: &stubClassifier{}, want: gcs.ErrObjectNotFound, op: "gcs.get"},
		{name: "corrupt", path: "gs://images/corrupt.jpg", clf: &stubClassifier{}, want: imaging.ErrInvalidImage, op: "imaging.decode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := NewClassifyUseCase(store, tc.clf, zap.NewNop())
			_, err := uc.Classify(context.Background(), "req", tc.path)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := logging.OperationOf(err); got != tc.op {
				t.Fatalf("expected operation %s, got %s", tc.op, got)
			}
			if tc.clf.calls != 0 {
				t.Fatal("classifier must not run")
			}
		})
	}
}

func TestClassifyUsesCache(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 40, 40))
	cache := newStubCache()
	clf := &stubClassifier{pred: model.Prediction{Label: "goldfish", Confidence: 0.5}}
	repo := &stubRepository{}
	uc := NewClassifyUseCase(store, clf, zap.NewNop(), WithCache(cache, time.Minute), WithRepository(repo), WithRetryPolicy(fastRetry))

	for i := 0; i < 2; i++ {
		pred, err := uc.Classify(context.Background(), "req", "gs://images/a.jpg")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if pred.Label != "goldfish" {
			t.Fatalf("call %d: unexpected label %s", i, pred.Label)
		}
	}
	if clf.calls != 1 {
		t.Fatalf("expected the model to run once, ran %d times", clf.calls)
	}
	if len(repo.logs) != 2 || repo.logs[0].Cached || !repo.logs[1].Cached {
		t.Fatalf("expected second log to be a cache hit: %+v", repo.logs)
	}
}

func TestClassifyRetriesCacheWrite(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 40, 40))
	cache := newStubCache()
	cache.setErrs = []error{transientRedisError{}}
	uc := NewClassifyUseCase(store, &stubClassifier{pred: model.Prediction{Label: "x", Confidence: 0.1}}, zap.NewNop(), WithCache(cache, time.Minute), WithRetryPolicy(fastRetry))

	if _, err := uc.Classify(context.Background(), "req", "gs://images/a.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.setKeys) != 2 || cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected a retried write to the same key, got %v", cache.setKeys)
	}
	if _, ok := cache.values[predictionCacheKey("gs://images/a.jpg")]; !ok {
		t.Fatal("expected prediction to be cached after retry")
	}
}

func TestClassifyIgnoresCacheAndRepositoryFailures(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 40, 40))
	cache := newStubCache()
	cache.getErrs = []error{errors.New("connection refused")}
	cache.setErrs = []error{errors.New("connection refused")}
	repo := &stubRepository{saveErr: errors.New("db down")}
	uc := NewClassifyUseCase(store, &stubClassifier{pred: model.Prediction{Label: "x", Confidence: 0.4}}, zap.NewNop(),
		WithCache(cache, time.Minute), WithRepository(repo), WithRetryPolicy(fastRetry))

	if _, err := uc.Classify(context.Background(), "req", "gs://images/a.jpg"); err != nil {
		t.Fatalf("cache and repository failures must not fail classification: %v", err)
	}
}

func TestClassifyInferenceFailure(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 40, 40))
	uc := NewClassifyUseCase(store, &stubClassifier{err: errors.New("session crashed")}, zap.NewNop())

	_, err := uc.Classify(context.Background(), "req", "gs://images/a.jpg")
	if logging.OperationOf(err) != "model.classify" {
		t.Fatalf("expected model.classify failure, got %v", err)
	}
}

func TestClassifyAndPublish(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 40, 40))
	pub := &stubPublisher{id: "out-1"}
	repo := &stubRepository{}
	uc := NewClassifyUseCase(store, &stubClassifier{pred: model.Prediction{Label: "tabby", Confidence: 0.9}}, zap.NewNop(),
		WithPublisher(pub), WithRepository(repo))

	pred, id, err := uc.ClassifyAndPublish(context.Background(), "req", "gs://images/a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "out-1" || pred.Label != "tabby" {
		t.Fatalf("unexpected result %+v %s", pred, id)
	}
	msg := pub.payloads[0].(notify.ClassifiedMessage)
	if msg.GCSPath != "gs://images/a.jpg" || msg.Label != "tabby" || msg.Confidence != 0.9 {
		t.Fatalf("unexpected published message %+v", msg)
	}
	if repo.logs[0].Source != repository.SourcePubSub {
		t.Fatalf("expected pubsub source, got %s", repo.logs[0].Source)
	}
}

func TestClassifyAndPublishQueueUnavailable(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 40, 40))
	pub := &stubPublisher{err: notify.ErrQueueUnavailable}
	uc := NewClassifyUseCase(store, &stubClassifier{pred: model.Prediction{Label: "tabby", Confidence: 0.9}}, zap.NewNop(), WithPublisher(pub))

	_, _, err := uc.ClassifyAndPublish(context.Background(), "req", "gs://images/a.jpg")
	if !errors.Is(err, notify.ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	uc := NewClassifyUseCase(gcs.NewMemoryStore(), &stubClassifier{}, zap.NewNop())
	if _, err := uc.GetMetricsSummary(context.Background()); !errors.Is(err, ErrPersistenceDisabled) {
		t.Fatalf("expected ErrPersistenceDisabled, got %v", err)
	}

	repo := &stubRepository{agg: &repository.MetricsAggregation{TotalCount: 4, CachedCount: 1, AverageConfidence: 0.5}}
	uc = NewClassifyUseCase(gcs.NewMemoryStore(), &stubClassifier{}, zap.NewNop(), WithRepository(repo))
	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.CacheHitRate != 0.25 || summary.TotalPredictions != 4 || summary.TopLabels == nil {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestGetPrediction(t *testing.T) {
	store := gcs.NewMemoryStore()
	seedImage(t, store, "gs://images/a.jpg", pngBytes(t, 40, 40))

	uc := NewClassifyUseCase(store, &stubClassifier{}, zap.NewNop())
	if _, err := uc.GetPrediction(context.Background(), "req-1"); !errors.Is(err, ErrPersistenceDisabled) {
		t.Fatalf("expected ErrPersistenceDisabled, got %v", err)
	}

	repo := &stubRepository{}
	clf := &stubClassifier{pred: model.Prediction{Label: "tabby", Confidence: 0.8}}
	uc = NewClassifyUseCase(store, clf, zap.NewNop(), WithRepository(repo))
	if _, err := uc.Classify(context.Background(), "req-1", "gs://images/a.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log, err := uc.GetPrediction(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.Label != "tabby" || log.GCSPath != "gs://images/a.jpg" || log.Source != repository.SourceHTTP {
		t.Fatalf("unexpected log %+v", log)
	}
	if _, err := uc.GetPrediction(context.Background(), "missing"); !errors.Is(err, repository.ErrLogNotFound) {
		t.Fatalf("expected ErrLogNotFound, got %v", err)
	}
}

func TestPreprocessPublishes(t *testing.T) {
	store := gcs.NewMemoryStore()
	if NewPreprocessUseCase(store, nil, "images", imaging.DefaultOptions(), zap.NewNop()).Publishes() {
		t.Fatal("expected no publishing without a publisher")
	}
	if !NewPreprocessUseCase(store, &stubPublisher{}, "images", imaging.DefaultOptions(), zap.NewNop()).Publishes() {
		t.Fatal("expected publishing with a publisher")
	}
}

type labelSetClassifier struct {
	labels []string
	seen   []image.Rectangle
}

func (c *labelSetClassifier) Classify(_ context.Context, img image.Image) (*model.Prediction, error) {
	c.seen = append(c.seen, img.Bounds())
	idx := (img.Bounds().Dx() + img.Bounds().Dy()) % len(c.labels)
	return &model.Prediction{Label: c.labels[idx], Confidence: 0.73, ClassIndex: idx}, nil
}

func TestPreprocessThenClassifyRoundTrip(t *testing.T) {
	store := gcs.NewMemoryStore()
	pub := &stubPublisher{id: "msg-1"}
	pre := NewPreprocessUseCase(store, pub, "images", imaging.DefaultOptions(), zap.NewNop())

	res, err := pre.Preprocess(context.Background(), "req-pre", pngBytes(t, 640, 480))
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}

	path, err := gcs.ParsePath(res.GCSPath)
	if err != nil {
		t.Fatalf("invalid stored path %q: %v", res.GCSPath, err)
	}
	stored, err := store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("stored object missing: %v", err)
	}
	cfg, format, err := imaging.Config(stored)
	if err != nil || format != "jpeg" || cfg.Width != 224 || cfg.Height != 224 {
		t.Fatalf("unexpected stored image: %+v %s %v", cfg, format, err)
	}

	// the consumer receives the published path, not the local result
	msg, ok := pub.payloads[0].(notify.PreprocessedMessage)
	if !ok || msg.GCSPath != res.GCSPath {
		t.Fatalf("unexpected notification %#v", pub.payloads[0])
	}

	clf := &labelSetClassifier{labels: []string{"tabby", "tiger_cat", "golden_retriever"}}
	uc := NewClassifyUseCase(store, clf, zap.NewNop())
	pred, err := uc.Classify(context.Background(), "req-cls", msg.GCSPath)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	if len(clf.seen) != 1 || clf.seen[0].Dx() != 224 || clf.seen[0].Dy() != 224 {
		t.Fatalf("expected the classifier to see the 224x224 image, got %v", clf.seen)
	}
	found := false
	for _, l := range clf.labels {
		if l == pred.Label {
			found = true
		}
	}
	if !found {
		t.Fatalf("label %q not in label set", pred.Label)
	}
	if pred.Confidence < 0 || pred.Confidence > 1 {
		t.Fatalf("confidence %v out of range", pred.Confidence)
	}
}
