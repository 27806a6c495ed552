// Package metrics records relay activity with OpenCensus and exposes it to
// Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
)

const defaultNamespace = "bean_relay"

const (
	ConnectionsViewName    = "connections"
	NewConnectionsViewName = "new_connections"
	BroadcastsViewName     = "broadcasts"
	DeliveriesViewName     = "deliveries"
	SendFailuresViewName   = "send_failures"
)

var (
	transportTagKey, _ = tag.NewKey("transport")

	connMeasure       = stats.Int64("connections", "current number of overlay connections", stats.UnitDimensionless)
	newConnMeasure    = stats.Int64("newconnections", "number of overlay connections accepted", stats.UnitDimensionless)
	broadcastMeasure  = stats.Int64("broadcasts", "number of events broadcast", stats.UnitDimensionless)
	deliveryMeasure   = stats.Int64("deliveries", "number of messages queued to connections", stats.UnitDimensionless)
	sendFailedMeasure = stats.Int64("sendfailures", "number of sends that failed and dropped a connection", stats.UnitDimensionless)

	registerViewsOnce sync.Once
	registerViewsErr  error
)

func views() []*view.View {
	return []*view.View{
		{Name: ConnectionsViewName, Measure: connMeasure, Aggregation: view.Sum(), TagKeys: []tag.Key{transportTagKey}},
		{Name: NewConnectionsViewName, Measure: newConnMeasure, Aggregation: view.Count(), TagKeys: []tag.Key{transportTagKey}},
		{Name: BroadcastsViewName, Measure: broadcastMeasure, Aggregation: view.Count()},
		{Name: DeliveriesViewName, Measure: deliveryMeasure, Aggregation: view.Sum()},
		{Name: SendFailuresViewName, Measure: sendFailedMeasure, Aggregation: view.Sum()},
	}
}

// RegisterViews registers the relay views with OpenCensus. Only the first call
// does any work.
func RegisterViews() error {
	registerViewsOnce.Do(func() {
		if err := view.Register(views()...); err != nil {
			registerViewsErr = fmt.Errorf("register metrics views: %w", err)
		}
	})
	return registerViewsErr
}

// Recorder implements hub.Recorder on top of OpenCensus measures.
type Recorder struct {
	ctx    context.Context
	logger logger.Logger
}

var _ hub.Recorder = (*Recorder)(nil)

func NewRecorder(log logger.Logger) *Recorder {
	return &Recorder{
		ctx:    context.Background(),
		logger: log.WithField("component", "metrics"),
	}
}

func (r *Recorder) ConnectionOpened(transport string) {
	ctx := r.tagged(transport)
	stats.Record(ctx, connMeasure.M(1), newConnMeasure.M(1))
}

func (r *Recorder) ConnectionClosed(transport string) {
	stats.Record(r.tagged(transport), connMeasure.M(-1))
}

func (r *Recorder) Broadcast(delivered, failed int) {
	stats.Record(r.ctx,
		broadcastMeasure.M(1),
		deliveryMeasure.M(int64(delivered)),
		sendFailedMeasure.M(int64(failed)),
	)
}

func (r *Recorder) tagged(transport string) context.Context {
	ctx, err := tag.New(r.ctx, tag.Upsert(transportTagKey, transport))
	if err != nil {
		r.logger.Errorf("Failed to create metric tags: %v", err)
		return r.ctx
	}
	return ctx
}

// Exporter serves the registered views in the Prometheus text format.
type Exporter struct {
	exporter *prometheus.Exporter
}

// NewPrometheusExporter registers the views and a Prometheus exporter for
// them. Close must be called to detach the exporter.
func NewPrometheusExporter(namespace string, log logger.Logger) (*Exporter, error) {
	if err := RegisterViews(); err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = defaultNamespace
	}

	log = log.WithField("component", "metrics")
	exporter, err := prometheus.NewExporter(prometheus.Options{
		Namespace: namespace,
		OnError: func(err error) {
			log.Errorf("Prometheus exporter error: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	view.RegisterExporter(exporter)

	return &Exporter{exporter: exporter}, nil
}

func (e *Exporter) Handler() http.Handler {
	return e.exporter
}

func (e *Exporter) Close() {
	view.UnregisterExporter(e.exporter)
}
