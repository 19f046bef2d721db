package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const metricsNamespace = "llmgate"

type PrometheusRepository struct {
	mu                 sync.Mutex
	collectorRegistrar *prometheus.Registry
	counterVecs        map[string]*prometheus.CounterVec
	gauges             map[string]prometheus.Gauge
	gaugeVecs          map[string]*prometheus.GaugeVec
	histogramVecs      map[string]*prometheus.HistogramVec
}

func NewPrometheusRepository() *PrometheusRepository {
	collectorRegistrar := prometheus.NewRegistry()
	collectorRegistrar.MustRegister(
		collectors.NewGoCollector(),                                       // Metrics from Go runtime.
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), // Metrics about the current UNIX process.
	)

	return &PrometheusRepository{
		collectorRegistrar: collectorRegistrar,
		counterVecs:        map[string]*prometheus.CounterVec{},
		gauges:             map[string]prometheus.Gauge{},
		gaugeVecs:          map[string]*prometheus.GaugeVec{},
		histogramVecs:      map[string]*prometheus.HistogramVec{},
	}
}

// Handler serves the registry in the OpenMetrics exposition format.
func (pr *PrometheusRepository) Handler() http.Handler {
	return promhttp.HandlerFor(pr.collectorRegistrar, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (pr *PrometheusRepository) Registry() *prometheus.Registry {
	return pr.collectorRegistrar
}

func (pr *PrometheusRepository) RegisterCounterVec(opts prometheus.CounterOpts, labels []string) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	name := prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name)
	if _, exists := pr.counterVecs[name]; exists {
		return fmt.Errorf("counter vector with name %s already exists", name)
	}

	pr.counterVecs[name] = promauto.With(pr.collectorRegistrar).NewCounterVec(opts, labels)
	return nil
}

func (pr *PrometheusRepository) RegisterGauge(opts prometheus.GaugeOpts) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	name := prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name)
	if _, exists := pr.gauges[name]; exists {
		return fmt.Errorf("gauge with name %s already exists", name)
	}

	pr.gauges[name] = promauto.With(pr.collectorRegistrar).NewGauge(opts)
	return nil
}

func (pr *PrometheusRepository) RegisterGaugeVec(opts prometheus.GaugeOpts, labels []string) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	name := prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name)
	if _, exists := pr.gaugeVecs[name]; exists {
		return fmt.Errorf("gauge vector with name %s already exists", name)
	}

	pr.gaugeVecs[name] = promauto.With(pr.collectorRegistrar).NewGaugeVec(opts, labels)
	return nil
}

func (pr *PrometheusRepository) RegisterHistogramVec(opts prometheus.HistogramOpts, labels []string) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	name := prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name)
	if _, exists := pr.histogramVecs[name]; exists {
		return fmt.Errorf("histogram vector with name %s already exists", name)
	}

	pr.histogramVecs[name] = promauto.With(pr.collectorRegistrar).NewHistogramVec(opts, labels)
	return nil
}

// GetCounterVecHandler retrieves a counter vector by fully qualified name
func (pr *PrometheusRepository) GetCounterVecHandler(name string) *prometheus.CounterVec {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.counterVecs[name]
}

// GetGaugeHandler retrieves a gauge by fully qualified name
func (pr *PrometheusRepository) GetGaugeHandler(name string) prometheus.Gauge {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.gauges[name]
}

// GetGaugeVecHandler retrieves a gauge vector by fully qualified name
func (pr *PrometheusRepository) GetGaugeVecHandler(name string) *prometheus.GaugeVec {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.gaugeVecs[name]
}

// GetHistogramVecHandler retrieves a histogram vector by fully qualified name
func (pr *PrometheusRepository) GetHistogramVecHandler(name string) *prometheus.HistogramVec {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.histogramVecs[name]
}

func warnOnRegisterErr(err error) {
	if err != nil {
		log.Warn().Err(err).Msg("metric registration skipped")
	}
}
