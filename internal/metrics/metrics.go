// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッション、認証、コレクション同期、HTTP層から利用する。
type MetricsCollector interface {
	RecordAuthAttempt(method, outcome string)
	RecordSessionTransition(state string)
	RecordGuardDecision(decision string)
	RecordCollectionWrite(collection, op, outcome string)
	AddLiveSubscriptions(collection string, delta int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts       *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	guardDecisions     *prometheus.CounterVec
	collectionWrites   *prometheus.CounterVec
	liveSubscriptions  *prometheus.GaugeVec
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_auth_attempts_total",
			Help: "サインイン・サインアップ・サインアウトの試行数",
		}, []string{"method", "outcome"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_session_transitions_total",
			Help: "セッション状態の遷移数",
		}, []string{"state"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_guard_decisions_total",
			Help: "ルートガードの判定数",
		}, []string{"decision"}),
		collectionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_collection_writes_total",
			Help: "コレクションへの書き込み数",
		}, []string{"collection", "op", "outcome"}),
		liveSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planner_live_subscriptions",
			Help: "購読中のライブクエリ数",
		}, []string{"collection"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.sessionTransitions,
		c.guardDecisions,
		c.collectionWrites,
		c.liveSubscriptions,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(method, outcome string) {
	c.authAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordSessionTransition はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionTransition(state string) {
	c.sessionTransitions.WithLabelValues(state).Inc()
}

// RecordGuardDecision はルートガードの判定を記録する。
func (c *Collector) RecordGuardDecision(decision string) {
	c.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordCollectionWrite はコレクションへの書き込み結果を記録する。
func (c *Collector) RecordCollectionWrite(collection, op, outcome string) {
	c.collectionWrites.WithLabelValues(collection, op, outcome).Inc()
}

// AddLiveSubscriptions はライブクエリの購読数を増減する。
func (c *Collector) AddLiveSubscriptions(collection string, delta int) {
	c.liveSubscriptions.WithLabelValues(collection).Add(float64(delta))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string)             {}
func (Nop) RecordSessionTransition(string)               {}
func (Nop) RecordGuardDecision(string)                   {}
func (Nop) RecordCollectionWrite(string, string, string) {}
func (Nop) AddLiveSubscriptions(string, int)             {}
func (Nop) RecordHTTPStatus(int)                         {}
func (Nop) RecordRequestLatency(time.Duration)           {}

// OrNop はcがnilならNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
