// Package metrics exposes OpenTelemetry instruments through a Prometheus endpoint.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/arka-squad/arka-labs-sub000"

var (
	AttrJobType = attribute.Key("job_type")
	AttrStatus  = attribute.Key("status")
	AttrGate    = attribute.Key("gate_id")
	AttrOutcome = attribute.Key("outcome")
	AttrRoute   = attribute.Key("http.route")
	AttrMethod  = attribute.Key("http.method")
)

// InitMeterProvider installs the global MeterProvider backed by a Prometheus
// registry and returns the /metrics handler.
func InitMeterProvider(ctx context.Context, serviceName string) (http.Handler, error) {
	if serviceName == "" {
		serviceName = "squadops"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

var (
	initOnce          sync.Once
	jobsStarted       metric.Int64Counter
	jobsFinished      metric.Int64Counter
	jobDuration       metric.Float64Histogram
	gateAttempts      metric.Int64Counter
	httpRequests      metric.Int64Counter
	httpDuration      metric.Float64Histogram
	instructionsTotal metric.Int64Counter
	sseGauge          metric.Int64ObservableGauge
	sseConnections    int64
	sseMu             sync.Mutex
)

// InitMetrics creates the instruments. Only the first call has any effect.
func InitMetrics(ctx context.Context) error {
	var err error
	initOnce.Do(func() {
		m := Meter()
		if jobsStarted, err = m.Int64Counter("squadops_jobs_started_total",
			metric.WithDescription("Gate and recipe jobs started")); err != nil {
			return
		}
		if jobsFinished, err = m.Int64Counter("squadops_jobs_finished_total",
			metric.WithDescription("Jobs finished by terminal status")); err != nil {
			return
		}
		if jobDuration, err = m.Float64Histogram("squadops_job_duration_seconds",
			metric.WithDescription("Job wall time in seconds")); err != nil {
			return
		}
		if gateAttempts, err = m.Int64Counter("squadops_gate_attempts_total",
			metric.WithDescription("Gate check attempts by outcome")); err != nil {
			return
		}
		if httpRequests, err = m.Int64Counter("squadops_http_requests_total",
			metric.WithDescription("HTTP requests served")); err != nil {
			return
		}
		if httpDuration, err = m.Float64Histogram("squadops_http_request_duration_seconds",
			metric.WithDescription("HTTP request latency in seconds")); err != nil {
			return
		}
		if instructionsTotal, err = m.Int64Counter("squadops_instructions_queued_total",
			metric.WithDescription("Squad instructions queued by suggested provider")); err != nil {
			return
		}
		if sseGauge, err = m.Int64ObservableGauge("squadops_sse_connections",
			metric.WithDescription("Open job stream connections")); err != nil {
			return
		}
		_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			sseMu.Lock()
			n := sseConnections
			sseMu.Unlock()
			o.ObserveInt64(sseGauge, n)
			return nil
		}, sseGauge)
	})
	return err
}

// RunningJobsFunc reports the number of jobs currently running in this process.
type RunningJobsFunc func() int64

// RegisterRunningJobs reports a running-jobs gauge through fn.
func RegisterRunningJobs(fn RunningJobsFunc) error {
	m := Meter()
	g, err := m.Int64ObservableGauge("squadops_jobs_running", metric.WithDescription("Jobs currently running"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(g, fn())
		return nil
	}, g)
	return err
}

func RecordJobStarted(ctx context.Context, jobType string) {
	if jobsStarted == nil {
		return
	}
	jobsStarted.Add(ctx, 1, metric.WithAttributes(AttrJobType.String(jobType)))
}

func RecordJobFinished(ctx context.Context, jobType, status string, d time.Duration) {
	attrs := metric.WithAttributes(AttrJobType.String(jobType), AttrStatus.String(status))
	if jobsFinished != nil {
		jobsFinished.Add(ctx, 1, attrs)
	}
	if jobDuration != nil {
		jobDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordGateAttempt records one check attempt; outcome is pass, retry or fail.
func RecordGateAttempt(ctx context.Context, gateID, outcome string) {
	if gateAttempts == nil {
		return
	}
	gateAttempts.Add(ctx, 1, metric.WithAttributes(AttrGate.String(gateID), AttrOutcome.String(outcome)))
}

func RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(AttrMethod.String(method), AttrRoute.String(route), attribute.Int("http.status_code", status))
	if httpRequests != nil {
		httpRequests.Add(ctx, 1, attrs)
	}
	if httpDuration != nil {
		httpDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func RecordInstructionQueued(ctx context.Context, provider string) {
	if instructionsTotal == nil {
		return
	}
	instructionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func AddSSEConnection() {
	sseMu.Lock()
	sseConnections++
	sseMu.Unlock()
}

func RemoveSSEConnection() {
	sseMu.Lock()
	if sseConnections > 0 {
		sseConnections--
	}
	sseMu.Unlock()
}
