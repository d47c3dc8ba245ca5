// ============================================================================
// mwcontrol Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集 master 控制迴圈的運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - mwcontrol_rounds_total: 已完成的迭代數
//      - mwcontrol_messages_sent_total: master 送出的訊息數
//      - mwcontrol_bytes_sent_total / mwcontrol_bytes_received_total: 訊息位元組數
//
//   2. 分佈 (Histogram)：
//      - mwcontrol_reply_wait_seconds: 從送出 step 到收齊所有回覆的時間
//      - mwcontrol_worker_process_seconds{worker,clock}: worker 回報的
//        real / user / system 時間
//
//   3. 瞬時值 (Gauge)：
//      - mwcontrol_iteration: 目前迭代
//      - mwcontrol_solution_quality: 最後一次求解的品質
//      - mwcontrol_workers: 參與的 worker 數
//
// Prometheus 查詢示例:
//
//   # 每分鐘迭代數
//   rate(mwcontrol_rounds_total[1m])
//
//   # 最慢 worker 的 95 分位處理時間
//   histogram_quantile(0.95, sum by (le, worker) (rate(mwcontrol_worker_process_seconds_bucket{clock="real"}[5m])))
//
// 所有方法對 nil *Collector 都是 no-op，方便不啟用監控的呼叫端。
//
// ============================================================================

package metrics

import (
	"strconv"

	"github.com/ChuLiYu/mwcontrol/internal/envelope"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mwcontrol"

// Collector Prometheus 指標收集器
type Collector struct {
	// 計數器
	rounds        prometheus.Counter
	messagesSent  prometheus.Counter
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter

	// 分佈
	replyWait     prometheus.Histogram
	workerProcess *prometheus.HistogramVec

	// 狀態
	iteration prometheus.Gauge
	quality   prometheus.Gauge
	workers   prometheus.Gauge
}

// NewCollector 創建指標收集器並註冊到 reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of completed iterations",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent by the master",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total number of message bytes sent by the master",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total number of reply bytes received by the master",
		}),
		replyWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_wait_seconds",
			Help:      "Time from dispatching a step to holding every reply",
			Buckets:   prometheus.DefBuckets,
		}),
		workerProcess: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_process_seconds",
			Help:      "Processing time reported by workers in reply envelopes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"worker", "clock"}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration",
			Help:      "Current iteration of the control loop",
		}),
		quality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solution_quality",
			Help:      "Quality reported by the last solve",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Number of workers taking part in the run",
		}),
	}

	reg.MustRegister(
		c.rounds,
		c.messagesSent,
		c.bytesSent,
		c.bytesReceived,
		c.replyWait,
		c.workerProcess,
		c.iteration,
		c.quality,
		c.workers,
	)

	return c
}

// RecordSent 記錄一次廣播：n 個訊息，每個 size 位元組
func (c *Collector) RecordSent(n, size int) {
	if c == nil {
		return
	}
	c.messagesSent.Add(float64(n))
	c.bytesSent.Add(float64(n * size))
}

// RecordReceived 記錄收到的回覆大小
func (c *Collector) RecordReceived(size int) {
	if c == nil {
		return
	}
	c.bytesReceived.Add(float64(size))
}

// ObserveReplyWait 記錄收齊回覆所需時間
func (c *Collector) ObserveReplyWait(seconds float64) {
	if c == nil {
		return
	}
	c.replyWait.Observe(seconds)
}

// ObserveWorkerTimes 記錄 worker 在回覆信封中回報的時間
func (c *Collector) ObserveWorkerTimes(worker int, t envelope.Times) {
	if c == nil {
		return
	}
	w := strconv.Itoa(worker)
	c.workerProcess.WithLabelValues(w, "real").Observe(float64(t.Real))
	c.workerProcess.WithLabelValues(w, "user").Observe(float64(t.User))
	c.workerProcess.WithLabelValues(w, "system").Observe(float64(t.System))
}

// RecordRound 記錄完成一次迭代
func (c *Collector) RecordRound(iteration int, quality float64) {
	if c == nil {
		return
	}
	c.rounds.Inc()
	c.iteration.Set(float64(iteration))
	c.quality.Set(quality)
}

// SetWorkers 設置 worker 數量
func (c *Collector) SetWorkers(n int) {
	if c == nil {
		return
	}
	c.workers.Set(float64(n))
}
