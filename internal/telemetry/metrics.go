package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaConsumerMetrics *KafkaConsumerMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	AppMetrics           *AppMetrics
	Close                func()
}

type KafkaConsumerMetrics struct {
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

type AppMetrics struct {
	PageScoredCounter     func(count int64)
	PageFailedCounter     func(count int64)
	RobotsBlockedCounter  func(count int64)
	RenderFallbackCounter func(count int64)
	AiCacheHitCounter     func(count int64)
	AiCacheMissCounter    func(count int64)
	AiScoreFailedCounter  func(count int64)
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider

	if cfg.TelemetrySettings.Enabled {
		r, err := newResource(cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}

	// Set up kafka consumer metrics
	kafkaConsumerSuccessCounter, err := meter.Int64Counter("aeo-crawler.kafka.read.success",
		metric.WithDescription("The number of messages that the kafka consumer successfully processed"),
		metric.WithUnit("{messages}"))
	kafkaConsumerFailCounter, err := meter.Int64Counter("aeo-crawler.kafka.read.fail",
		metric.WithDescription("The number of messages that the kafka consumer could not process"),
		metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for kafka consumer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaConsumerMetrics = &KafkaConsumerMetrics{
		SuccessfullyReadMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaConsumerSuccessCounter.Add(ctx, count)
			}
		},
		FailedReadMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaConsumerFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up kafka producer metrics
	kafkaProducerSuccessCounter, err := meter.Int64Counter("aeo-crawler.kafka.send.success",
		metric.WithDescription("The number of messages that the kafka producer successfully processed"),
		metric.WithUnit("{messages}"))
	kafkaProducerFailCounter, err := meter.Int64Counter("aeo-crawler.kafka.send.fail",
		metric.WithDescription("The number of messages that the kafka producer could not process"),
		metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for kafka producer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaProducerMetrics = &KafkaProducerMetrics{
		SuccessfullySendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerSuccessCounter.Add(ctx, count)
			}
		},
		FailedSendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up worker metrics
	pageScoredCounter, err := meter.Int64Counter("aeo-crawler.pages.scored",
		metric.WithDescription("The number of pages scored successfully"),
		metric.WithUnit("{pages}"))
	pageFailedCounter, err := meter.Int64Counter("aeo-crawler.pages.failed",
		metric.WithDescription("The number of pages that could not be processed. Sent to DLQ."),
		metric.WithUnit("{pages}"))
	robotsBlockedCounter, err := meter.Int64Counter("aeo-crawler.pages.robots-blocked",
		metric.WithDescription("The number of pages skipped because robots.txt disallows crawling"),
		metric.WithUnit("{pages}"))
	renderFallbackCounter, err := meter.Int64Counter("aeo-crawler.pages.render-fallback",
		metric.WithDescription("The number of pages downgraded to the static fetch after a browser failure"),
		metric.WithUnit("{pages}"))
	aiCacheHitCounter, err := meter.Int64Counter("aeo-crawler.ai.cache-hit",
		metric.WithDescription("The number of rubric scores served from cache"),
		metric.WithUnit("{scores}"))
	aiCacheMissCounter, err := meter.Int64Counter("aeo-crawler.ai.cache-miss",
		metric.WithDescription("The number of rubric scores that required an llm call"),
		metric.WithUnit("{scores}"))
	aiScoreFailedCounter, err := meter.Int64Counter("aeo-crawler.ai.fail",
		metric.WithDescription("The number of rubric scoring attempts that failed"),
		metric.WithUnit("{scores}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for worker.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.AppMetrics = &AppMetrics{
		PageScoredCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				pageScoredCounter.Add(ctx, count)
			}
		},
		PageFailedCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				pageFailedCounter.Add(ctx, count)
			}
		},
		RobotsBlockedCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				robotsBlockedCounter.Add(ctx, count)
			}
		},
		RenderFallbackCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				renderFallbackCounter.Add(ctx, count)
			}
		},
		AiCacheHitCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				aiCacheHitCounter.Add(ctx, count)
			}
		},
		AiCacheMissCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				aiCacheMissCounter.Add(ctx, count)
			}
		},
		AiScoreFailedCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				aiScoreFailedCounter.Add(ctx, count)
			}
		},
	}

	// initialize metrics in DataDog for setup UI
	if cfg.TelemetrySettings.Enabled {
		metricsProvider.KafkaProducerMetrics.SuccessfullySendMsgCnt(1)
		metricsProvider.KafkaProducerMetrics.FailedSendMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.SuccessfullyReadMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.FailedReadMsgCnt(1)
		metricsProvider.AppMetrics.PageScoredCounter(1)
		metricsProvider.AppMetrics.PageFailedCounter(1)
		metricsProvider.AppMetrics.RobotsBlockedCounter(1)
		metricsProvider.AppMetrics.RenderFallbackCounter(1)
		metricsProvider.AppMetrics.AiCacheHitCounter(1)
		metricsProvider.AppMetrics.AiCacheMissCounter(1)
		metricsProvider.AppMetrics.AiScoreFailedCounter(1)
	}

	return metricsProvider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
