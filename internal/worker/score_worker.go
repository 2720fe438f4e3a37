package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/IliaW/aeo-crawler/internal/orchestrator"
	"github.com/IliaW/aeo-crawler/internal/telemetry"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DeadLetterQueue is satisfied by the kafka DLQ client.
type DeadLetterQueue interface {
	SendToDLQ(payload string, reason error)
}

// ScoreWorker drains the inbound task channel. Single-page tasks go
// straight through the pipeline; run-type tasks fan out into a whole
// domain crawl. The pipeline retries transient fetch failures itself;
// whatever still fails is dead-lettered here.
type ScoreWorker struct {
	TaskChan   <-chan []byte
	ResultChan chan<- *model.ScoreResult
	Cfg        *config.Config
	Pipeline   *orchestrator.Pipeline
	Crawler    *orchestrator.Crawler
	Wg         *sync.WaitGroup
	KafkaDLQ   DeadLetterQueue
	Metrics    *telemetry.AppMetrics
}

func (w *ScoreWorker) Run(ctx context.Context) {
	defer w.Wg.Done()
	slog.Debug("starting score worker.")

	for value := range w.TaskChan {
		var task model.CrawlTask
		if err := json.Unmarshal(value, &task); err != nil {
			slog.Error("failed to unmarshal message.", slog.String("err", err.Error()))
			w.KafkaDLQ.SendToDLQ(string(value), err)
			w.Metrics.PageFailedCounter(1)
			continue
		}

		if isRunTask(task.RunType) {
			w.runCrawl(ctx, &task)
			continue
		}
		w.processPage(ctx, &task)
	}
}

func isRunTask(runType model.RunType) bool {
	switch runType {
	case model.RunFull, model.RunSitemapOnly, model.RunSample, model.RunDelta:
		return true
	default:
		return false
	}
}

func (w *ScoreWorker) runCrawl(ctx context.Context, task *model.CrawlTask) {
	runCfg := &model.RunConfig{
		RunID:            task.RunID,
		BaseURL:          task.URL,
		RunType:          task.RunType,
		DepthLimit:       task.DepthLimit,
		SampleSize:       task.SampleSize,
		TokenLimit:       task.TokenLimit,
		ExcludedPatterns: task.ExcludedPatterns,
		UserAgent:        task.UserAgent,
		WithAiScore:      task.WithAiScore,
	}
	if err := w.Crawler.RunCrawl(ctx, runCfg); err != nil {
		slog.Error("crawl run failed.", slog.String("run_id", runCfg.RunID),
			slog.String("err", err.Error()))
		w.KafkaDLQ.SendToDLQ(task.URL, err)
		w.Metrics.PageFailedCounter(1)
	}
}

func (w *ScoreWorker) processPage(ctx context.Context, task *model.CrawlTask) {
	result, _, err := w.Pipeline.ProcessPage(ctx, task)
	if err != nil {
		slog.Error("page processing failed.", slog.String("url", task.URL),
			slog.String("err", err.Error()))
		w.KafkaDLQ.SendToDLQ(task.URL, err)
		w.Metrics.PageFailedCounter(1)
		return
	}
	w.ResultChan <- result
}
