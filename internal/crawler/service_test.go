package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"altfinder/internal/config"
	"altfinder/internal/model"
	"altfinder/internal/pkg/dedup"
	"altfinder/internal/pkg/logger"
	"altfinder/internal/pkg/redisqueue"
	"altfinder/internal/recs"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecommender struct {
	mu     sync.Mutex
	calls  []string
	fn     func(ctx context.Context, siteID, rawURL string, limit int) (*model.RecommendationResult, error)
	seedFn func(ctx context.Context, siteID, rawURL string) (*model.Product, error)
}

func (f *fakeRecommender) ReadSeed(ctx context.Context, siteID, rawURL string) (*model.Product, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "seed:"+rawURL)
	f.mu.Unlock()
	if f.seedFn == nil {
		return nil, "", errors.New("seed reader not configured")
	}
	p, err := f.seedFn(ctx, siteID, rawURL)
	return p, siteID, err
}

func (f *fakeRecommender) Recommend(ctx context.Context, siteID, rawURL string, limit int) (*model.RecommendationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	return f.fn(ctx, siteID, rawURL, limit)
}

func okResult(ids ...string) *model.RecommendationResult {
	res := &model.RecommendationResult{Flat: []model.Product{}}
	for _, id := range ids {
		res.Flat = append(res.Flat, model.Product{Identifier: id})
	}
	return res
}

type testEnv struct {
	svc   *Service
	queue *redisqueue.Client
	dedup *dedup.Deduplicator
	mr    *miniredis.Miniredis
}

func newTestEnv(t *testing.T, rec Recommender, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	queue, err := redisqueue.NewClientWithRedis(rdb)
	require.NoError(t, err)
	dd := dedup.NewDeduplicator(rdb, time.Minute)

	cfg := config.Defaults()
	cfg.App.JobTimeout = 2 * time.Second
	cfg.App.JanitorInterval = 0
	cfg.App.MaxJobs = 0
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := NewService(cfg, rec, queue, dd, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)
	return &testEnv{svc: svc, queue: queue, dedup: dd, mr: mr}
}

// ============================================================================
// 错误码映射测试
// ============================================================================

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"unsupported", fmt.Errorf("resolve: %w", recs.ErrUnsupportedSite), model.ErrorCodeUnsupported},
		{"seed", &recs.SeedError{URL: "https://x", Err: recs.ErrSeedNameMissing}, model.ErrorCodeSeed},
		{"seed_timeout", &recs.SeedError{URL: "https://x", Err: context.DeadlineExceeded}, model.ErrorCodeSeed},
		{"timeout", fmt.Errorf("collect: %w", context.DeadlineExceeded), model.ErrorCodeTimeout},
		{"other", errors.New("boom"), model.ErrorCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.expected {
				t.Errorf("ErrorCode(%v) = %q, expected %q", tt.err, got, tt.expected)
			}
		})
	}
}

// ============================================================================
// Process 测试（不访问队列）
// ============================================================================

func TestServiceProcess(t *testing.T) {
	tests := []struct {
		name       string
		fn         func(ctx context.Context, siteID, rawURL string, limit int) (*model.RecommendationResult, error)
		wantStatus model.JobStatus
		wantCode   string
	}{
		{
			name: "success",
			fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
				return okResult("A", "B"), nil
			},
			wantStatus: model.JobStatusDone,
		},
		{
			name: "seed_unreadable",
			fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
				return nil, &recs.SeedError{URL: "https://x", Err: recs.ErrSeedNameMissing}
			},
			wantStatus: model.JobStatusFailed,
			wantCode:   model.ErrorCodeSeed,
		},
		{
			name: "unsupported_site",
			fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
				return nil, recs.ErrUnsupportedSite
			},
			wantStatus: model.JobStatusFailed,
			wantCode:   model.ErrorCodeUnsupported,
		},
		{
			name: "job_timeout",
			fn: func(ctx context.Context, _ string, _ string, _ int) (*model.RecommendationResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantStatus: model.JobStatusFailed,
			wantCode:   model.ErrorCodeTimeout,
		},
		{
			name: "panic",
			fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
				panic("boom")
			},
			wantStatus: model.JobStatusFailed,
			wantCode:   model.ErrorCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeRecommender{fn: tt.fn}, func(cfg *config.Config) {
				cfg.App.JobTimeout = 50 * time.Millisecond
			})

			res := env.svc.Process(context.Background(), &model.RecommendationJob{
				JobID: "job-1", Site: "amazon", URL: "https://www.amazon.in/dp/B000000001", Limit: 5,
			})
			require.NotNil(t, res)
			assert.Equal(t, "job-1", res.JobID)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			assert.NotZero(t, res.FinishedAt)
			if tt.wantStatus == model.JobStatusDone {
				require.NotNil(t, res.Result)
				assert.Len(t, res.Result.Flat, 2)
				assert.Empty(t, res.Error)
			} else {
				assert.Nil(t, res.Result)
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestServiceProcess_SeedJob(t *testing.T) {
	rec := &fakeRecommender{
		fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
			t.Error("seed job must not run the full pipeline")
			return nil, nil
		},
		seedFn: func(_ context.Context, _ string, rawURL string) (*model.Product, error) {
			if rawURL == "https://www.amazon.in/dp/B0BROKEN01" {
				return nil, &recs.SeedError{URL: rawURL, Err: recs.ErrSeedNameMissing}
			}
			return &model.Product{Name: "Acme Mouse", URL: rawURL, Price: model.Float(25)}, nil
		},
	}
	env := newTestEnv(t, rec, nil)

	res := env.svc.Process(context.Background(), &model.RecommendationJob{
		JobID: "seed-1", Kind: model.JobKindSeed, Site: "amazon", URL: "https://www.amazon.in/dp/B000000001",
	})
	require.Equal(t, model.JobStatusDone, res.Status)
	require.NotNil(t, res.Seed)
	assert.Equal(t, "Acme Mouse", res.Seed.Name)
	assert.Nil(t, res.Result)

	res = env.svc.Process(context.Background(), &model.RecommendationJob{
		JobID: "seed-2", Kind: model.JobKindSeed, Site: "amazon", URL: "https://www.amazon.in/dp/B0BROKEN01",
	})
	assert.Equal(t, model.JobStatusFailed, res.Status)
	assert.Equal(t, model.ErrorCodeSeed, res.ErrorCode)
	assert.Nil(t, res.Seed)
}

func TestServiceProcess_Stats(t *testing.T) {
	n := 0
	env := newTestEnv(t, &fakeRecommender{fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
		n++
		if n%2 == 0 {
			return nil, errors.New("boom")
		}
		return okResult("A"), nil
	}}, nil)

	for i := 0; i < 4; i++ {
		env.svc.Process(context.Background(), &model.RecommendationJob{JobID: fmt.Sprintf("job-%d", i)})
	}

	stats := env.svc.Stats()
	assert.Equal(t, int64(4), stats.TotalProcessed)
	assert.Equal(t, int64(2), stats.TotalSucceeded)
	assert.Equal(t, int64(2), stats.TotalFailed)
	assert.Equal(t, int64(0), stats.TotalPanics)
}

// ============================================================================
// Worker 循环测试（miniredis）
// ============================================================================

func TestStartWorker_ProcessesJob(t *testing.T) {
	rec := &fakeRecommender{fn: func(_ context.Context, siteID, _ string, limit int) (*model.RecommendationResult, error) {
		if siteID != "amazon" || limit != 7 {
			return nil, fmt.Errorf("unexpected args %s/%d", siteID, limit)
		}
		return okResult("ALT1"), nil
	}}
	env := newTestEnv(t, rec, func(cfg *config.Config) {
		cfg.App.MaxJobs = 1
	})
	ctx := context.Background()

	key := dedup.Key("amazon", "https://www.amazon.in/dp/B000000001", 7)
	_, claimed, err := env.dedup.Claim(ctx, key, "job-1")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, env.queue.PushJob(ctx, &model.RecommendationJob{
		JobID:     "job-1",
		Site:      "amazon",
		URL:       "https://www.amazon.in/dp/B000000001",
		Limit:     7,
		DedupKey:  key,
		CreatedAt: time.Now().Unix(),
	}))

	workerCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- env.svc.StartWorker(workerCtx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	res, err := env.queue.WaitResult(waitCtx, "job-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, res.Status)
	require.NotNil(t, res.Result)
	assert.Equal(t, "ALT1", res.Result.Flat[0].Identifier)

	select {
	case <-env.svc.RestartSignal():
	case <-time.After(5 * time.Second):
		t.Fatal("restart signal not sent after max jobs")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	waiting, processing, err := env.queue.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, waiting)
	assert.Zero(t, processing, "job acked")

	owner, claimed, err := env.dedup.Claim(ctx, key, "job-2")
	require.NoError(t, err)
	assert.True(t, claimed, "dedup key released after the job finished")
	assert.Equal(t, "job-2", owner)
}

func TestStartWorker_FailedJobStillAcked(t *testing.T) {
	env := newTestEnv(t, &fakeRecommender{fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
		return nil, &recs.SeedError{URL: "https://x", Err: recs.ErrSeedNameMissing}
	}}, nil)
	ctx := context.Background()

	require.NoError(t, env.queue.PushJob(ctx, &model.RecommendationJob{JobID: "job-bad", Site: "amazon", URL: "https://x"}))

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = env.svc.StartWorker(workerCtx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	res, err := env.queue.WaitResult(waitCtx, "job-bad", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, res.Status)
	assert.Equal(t, model.ErrorCodeSeed, res.ErrorCode)

	assert.Eventually(t, func() bool {
		_, processing, err := env.queue.QueueDepth(ctx)
		return err == nil && processing == 0
	}, 5*time.Second, 20*time.Millisecond)

	// 同一个 job_id 可以再次入队
	assert.NoError(t, env.queue.PushJob(ctx, &model.RecommendationJob{JobID: "job-bad"}))
}

func TestRescueStuckJobs(t *testing.T) {
	env := newTestEnv(t, &fakeRecommender{fn: func(context.Context, string, string, int) (*model.RecommendationResult, error) {
		return okResult(), nil
	}}, func(cfg *config.Config) {
		cfg.App.StuckJobTimeout = time.Minute
	})
	ctx := context.Background()

	require.NoError(t, env.queue.PushJob(ctx, &model.RecommendationJob{JobID: "stuck", CreatedAt: time.Now().Unix()}))
	_, err := env.queue.PopJob(ctx, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 0, env.svc.rescueStuckJobs(ctx), "fresh job is not stuck")

	env.mr.HSet(redisqueue.KeyJobStartedHash, "stuck", fmt.Sprint(time.Now().Add(-time.Hour).Unix()))
	assert.Equal(t, 1, env.svc.rescueStuckJobs(ctx))

	waiting, processing, err := env.queue.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), waiting)
	assert.Zero(t, processing)
}

func TestNewServiceValidation(t *testing.T) {
	rec := &fakeRecommender{}
	q := redisqueue.NewClient("localhost:0", "")
	defer q.Close()

	_, err := NewService(nil, rec, q, nil, nil)
	assert.Error(t, err)
	_, err = NewService(config.Defaults(), nil, q, nil, nil)
	assert.Error(t, err)
	_, err = NewService(config.Defaults(), rec, nil, nil, nil)
	assert.Error(t, err)
}

// ============================================================================
// 并发安全性测试
// ============================================================================

func TestWorkerStatsConcurrency(t *testing.T) {
	stats := &workerStats{}
	var wg sync.WaitGroup
	iterations := 1000
	goroutines := 10

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				stats.TotalProcessed.Add(1)
				stats.TotalFailed.Add(1)
			}
		}()
	}
	wg.Wait()

	expected := int64(goroutines * iterations)
	if stats.TotalProcessed.Load() != expected {
		t.Errorf("TotalProcessed = %d, expected %d", stats.TotalProcessed.Load(), expected)
	}
	if stats.TotalFailed.Load() != expected {
		t.Errorf("TotalFailed = %d, expected %d", stats.TotalFailed.Load(), expected)
	}
}
