// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層、イベント配信ハブ、ミドルウェアから利用する。
type Recorder interface {
	RecordMutation(op string, duration time.Duration)
	RecordMutationRejected(op, reason string)
	RecordEventBroadcast(kind string)
	RecordSlowClientDropped()
	SetStreamClients(n int)
	RecordCredentialRejected()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	mutations          *prometheus.CounterVec
	mutationLatency    *prometheus.HistogramVec
	mutationsRejected  *prometheus.CounterVec
	eventsBroadcast    *prometheus.CounterVec
	slowClientsDropped prometheus.Counter
	streamClients      prometheus.Gauge
	credentialRejected prometheus.Counter
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geopins_mutations_total",
			Help: "コミットされたミューテーションの合計数",
		}, []string{"op"}),
		mutationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geopins_mutation_latency_seconds",
			Help:    "ミューテーションのコミットまでのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		mutationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geopins_mutations_rejected_total",
			Help: "拒否されたミューテーションの合計数",
		}, []string{"op", "reason"}),
		eventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geopins_events_broadcast_total",
			Help: "配信キューに投入された変更イベントの合計数",
		}, []string{"type"}),
		slowClientsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geopins_stream_slow_clients_dropped_total",
			Help: "送信キューが溢れて切断されたストリームクライアント数",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geopins_stream_clients",
			Help: "接続中のストリームクライアント数",
		}),
		credentialRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geopins_credentials_rejected_total",
			Help: "検証に失敗し匿名扱いになった資格情報の数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geopins_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.mutations,
		c.mutationLatency,
		c.mutationsRejected,
		c.eventsBroadcast,
		c.slowClientsDropped,
		c.streamClients,
		c.credentialRejected,
		c.httpStatus,
	)

	return c
}

// RecordMutation はコミット済みミューテーションとそのレイテンシを記録する。
func (c *Collector) RecordMutation(op string, duration time.Duration) {
	c.mutations.WithLabelValues(op).Inc()
	c.mutationLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordMutationRejected は拒否されたミューテーションを記録する。
func (c *Collector) RecordMutationRejected(op, reason string) {
	c.mutationsRejected.WithLabelValues(op, reason).Inc()
}

// RecordEventBroadcast は配信した変更イベントを記録する。
func (c *Collector) RecordEventBroadcast(kind string) {
	c.eventsBroadcast.WithLabelValues(kind).Inc()
}

// RecordSlowClientDropped は低速クライアントの切断を記録する。
func (c *Collector) RecordSlowClientDropped() {
	c.slowClientsDropped.Inc()
}

// SetStreamClients は接続中クライアント数を設定する。
func (c *Collector) SetStreamClients(n int) {
	c.streamClients.Set(float64(n))
}

// RecordCredentialRejected は検証に失敗した資格情報を記録する。
func (c *Collector) RecordCredentialRejected() {
	c.credentialRejected.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordMutation(string, time.Duration)  {}
func (Nop) RecordMutationRejected(string, string) {}
func (Nop) RecordEventBroadcast(string)           {}
func (Nop) RecordSlowClientDropped()              {}
func (Nop) SetStreamClients(int)                  {}
func (Nop) RecordCredentialRejected()             {}
func (Nop) RecordHTTPStatus(int)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
