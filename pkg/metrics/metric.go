package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "datacat"

var (
	Registry = prometheus.NewRegistry()

	factory = promauto.With(Registry)

	GRPCMetrics = grpcprometheus.NewServerMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = namespace
		},
	)

	// LeaseWait 获取路径租约的等待时间
	LeaseWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lease",
		Name:      "wait_seconds",
		Help:      "Time spent waiting to acquire a path lease.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	// LeaseContended 需要排队的获取次数
	LeaseContended = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lease",
		Name:      "contended_total",
		Help:      "Lease acquisitions that had to queue behind another holder.",
	})

	// LeaseRegistrySize 注册表里存活的租约数
	LeaseRegistrySize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "lease",
		Name:      "registry_size",
		Help:      "Number of live entries in the lease registry.",
	})

	// QueryCompiles 查询编译结果，按 outcome 区分
	QueryCompiles = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "compiles_total",
		Help:      "Query compilations by outcome.",
	}, []string{"outcome"})

	// StatLookups 统计缓存命中情况，layer: memo/shared/store
	StatLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stat",
		Name:      "lookups_total",
		Help:      "Container stat lookups by the layer that answered them.",
	}, []string{"layer"})

	// ViewLookups 版本视图缓存命中情况，result: hit/miss
	ViewLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "lookups_total",
		Help:      "Version view cache lookups by result.",
	}, []string{"result"})
)

func init() {
	// 直方图要在注册之前打开，否则 Describe 里没有它的描述符
	GRPCMetrics.EnableHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = namespace
		},
	)
	Registry.MustRegister(
		GRPCMetrics,
	)
}
