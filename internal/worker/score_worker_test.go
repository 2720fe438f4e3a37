package worker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/IliaW/aeo-crawler/internal/orchestrator"
	"github.com/IliaW/aeo-crawler/internal/robots"
	"github.com/IliaW/aeo-crawler/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockedRobots struct{}

func (blockedRobots) Check(context.Context, string) (*robots.Policy, error) {
	return &robots.Policy{Status: robots.Blocked, Reason: "disallow all"}, nil
}

type nullStorage struct{}

func (nullStorage) SaveSnapshotMeta(*model.PageSnapshot, string) {}
func (nullStorage) SaveScore(*model.ScoreResult)                 {}

type recordingDLQ struct {
	mu       sync.Mutex
	payloads []string
}

func (d *recordingDLQ) SendToDLQ(payload string, _ error) {
	d.mu.Lock()
	d.payloads = append(d.payloads, payload)
	d.mu.Unlock()
}

func noopMetrics() *telemetry.AppMetrics {
	noop := func(int64) {}
	return &telemetry.AppMetrics{
		PageScoredCounter:     noop,
		PageFailedCounter:     noop,
		RobotsBlockedCounter:  noop,
		RenderFallbackCounter: noop,
		AiCacheHitCounter:     noop,
		AiCacheMissCounter:    noop,
		AiScoreFailedCounter:  noop,
	}
}

func testWorker(taskChan chan []byte, resultChan chan *model.ScoreResult,
	dlq *recordingDLQ) (*ScoreWorker, *sync.WaitGroup) {
	cfg := &config.Config{
		WorkerSettings:  &config.WorkerConfig{RetryAttempts: 1, RetryDelay: time.Millisecond},
		ScoringSettings: &config.ScoringConfig{RecommendationThreshold: 70},
		CrawlerSettings: &config.CrawlerConfig{},
	}
	pipeline := &orchestrator.Pipeline{
		Cfg:     cfg,
		Robots:  blockedRobots{},
		Db:      nullStorage{},
		Metrics: noopMetrics(),
		Log:     slog.New(slog.DiscardHandler),
	}
	wg := &sync.WaitGroup{}
	return &ScoreWorker{
		TaskChan:   taskChan,
		ResultChan: resultChan,
		Cfg:        cfg,
		Pipeline:   pipeline,
		Wg:         wg,
		KafkaDLQ:   dlq,
		Metrics:    noopMetrics(),
	}, wg
}

func TestScoreWorkerProcessesPageTask(t *testing.T) {
	taskChan := make(chan []byte, 1)
	resultChan := make(chan *model.ScoreResult, 1)
	dlq := &recordingDLQ{}
	worker, wg := testWorker(taskChan, resultChan, dlq)

	task, err := json.Marshal(&model.CrawlTask{RunID: "run-1", URL: "https://example.com/page"})
	require.NoError(t, err)
	taskChan <- task
	close(taskChan)

	wg.Add(1)
	worker.Run(context.Background())

	select {
	case result := <-resultChan:
		assert.Equal(t, "run-1", result.RunID)
		assert.True(t, result.Blocked)
	default:
		t.Fatal("expected a score result")
	}
	assert.Empty(t, dlq.payloads)
}

func TestScoreWorkerDeadLettersBadMessages(t *testing.T) {
	taskChan := make(chan []byte, 1)
	dlq := &recordingDLQ{}
	worker, wg := testWorker(taskChan, make(chan *model.ScoreResult, 1), dlq)

	taskChan <- []byte("{not json")
	close(taskChan)

	wg.Add(1)
	worker.Run(context.Background())

	require.Len(t, dlq.payloads, 1)
	assert.Equal(t, "{not json", dlq.payloads[0])
}

func TestScoreWorkerStopsWhenChannelCloses(t *testing.T) {
	taskChan := make(chan []byte)
	worker, wg := testWorker(taskChan, make(chan *model.ScoreResult, 1), &recordingDLQ{})

	done := make(chan struct{})
	wg.Add(1)
	go func() {
		worker.Run(context.Background())
		close(done)
	}()
	close(taskChan)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after channel close")
	}
}
