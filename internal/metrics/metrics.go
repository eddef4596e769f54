// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordLoginLinkSent()
	RecordLoginSuccess()
	RecordTokenRefresh()
	RecordWebhookEvent(eventType string)
	RecordWebhookSignatureFailure()
	RecordEmailDeliveryFailure()
	RecordEmailDeliveryLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginLinkSent    prometheus.Counter
	loginSuccess     prometheus.Counter
	tokenRefresh     prometheus.Counter
	webhookEvents    *prometheus.CounterVec
	webhookSigFail   prometheus.Counter
	emailFail        prometheus.Counter
	emailSendLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginLinkSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberman_login_link_sent_total",
			Help: "送信されたログインリンクの合計数",
		}),
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberman_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		tokenRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberman_token_refresh_total",
			Help: "リフレッシュトークンによるアクセストークン再発行の合計数",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberman_webhook_events_total",
			Help: "イベントタイプ別の受信Webhookイベント数",
		}, []string{"event_type"}),
		webhookSigFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberman_webhook_signature_fail_total",
			Help: "Webhook署名検証失敗の合計数",
		}),
		emailFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberman_email_delivery_fail_total",
			Help: "メール配信失敗の合計数",
		}),
		emailSendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memberman_email_delivery_latency_seconds",
			Help:    "メール配信APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginLinkSent,
		c.loginSuccess,
		c.tokenRefresh,
		c.webhookEvents,
		c.webhookSigFail,
		c.emailFail,
		c.emailSendLatency,
	)

	return c
}

// RecordLoginLinkSent はログインリンク送信を記録する。
func (c *Collector) RecordLoginLinkSent() {
	c.loginLinkSent.Inc()
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordTokenRefresh はアクセストークンのサイレント再発行を記録する。
func (c *Collector) RecordTokenRefresh() {
	c.tokenRefresh.Inc()
}

// RecordWebhookEvent は受信したWebhookイベントをタイプ別に記録する。
func (c *Collector) RecordWebhookEvent(eventType string) {
	c.webhookEvents.WithLabelValues(eventType).Inc()
}

// RecordWebhookSignatureFailure はWebhook署名検証の失敗を記録する。
func (c *Collector) RecordWebhookSignatureFailure() {
	c.webhookSigFail.Inc()
}

// RecordEmailDeliveryFailure はメール配信の失敗を記録する。
func (c *Collector) RecordEmailDeliveryFailure() {
	c.emailFail.Inc()
}

// RecordEmailDeliveryLatency はメール配信APIのレイテンシを記録する。
func (c *Collector) RecordEmailDeliveryLatency(duration time.Duration) {
	c.emailSendLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsをappハンドラーの手前に差し込んだ
// ルートハンドラーを返す。スクレイプはアプリのミドルウェア
// （リクエストログ・レート制限）を通らない。
func SetupMetricsRoute(gatherer prometheus.Gatherer, app http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	mux.Handle("/", app)
	return mux
}
