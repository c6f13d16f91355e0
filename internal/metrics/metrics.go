// Package metrics 定义 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "content_sync"

// Metrics 服务端与客户端共用的指标集合，每个进程一个实例
type Metrics struct {
	Registry *prometheus.Registry

	VersionsInserted *prometheus.CounterVec
	Rollbacks        *prometheus.CounterVec
	VersionConflicts *prometheus.CounterVec
	RelayClients     prometheus.Gauge
	RelayPublished   *prometheus.CounterVec

	SyncState         *prometheus.GaugeVec
	SyncReconnects    prometheus.Counter
	BroadcastFailures prometheus.Counter
	PendingSaves      prometheus.Gauge
	BusDeliveries     *prometheus.CounterVec
	BusPanics         *prometheus.CounterVec
}

// New creates and registers every collector on a private registry
// New 创建指标并注册到独立的 registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		VersionsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_inserted_total",
			Help:      "Version records inserted, by domain and action.",
		}, []string{"domain", "action"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Current pointer moves to an older version, by domain.",
		}, []string{"domain"}),
		VersionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Saves whose allocated version skipped the version the writer observed.",
		}, []string{"domain"}),
		RelayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_clients",
			Help:      "Websocket sessions connected to the relay.",
		}),
		RelayPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_published_total",
			Help:      "Change events pushed to relay subscribers, by topic.",
		}, []string{"topic"}),
		SyncState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_channel_state",
			Help:      "1 for the current sync channel state, 0 otherwise.",
		}, []string{"state"}),
		SyncReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_reconnect_attempts_total",
			Help:      "Push subscription attempts after the first.",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_broadcast_failures_total",
			Help:      "Broadcasts that could not be delivered to the relay.",
		}),
		PendingSaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_saves",
			Help:      "Saves accepted locally and not yet durable remotely.",
		}),
		BusDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_deliveries_total",
			Help:      "Messages handed to event bus subscribers, by topic and origin.",
		}, []string{"topic", "origin"}),
		BusPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_handler_panics_total",
			Help:      "Recovered event bus handler panics, by topic.",
		}, []string{"topic"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.VersionsInserted,
		m.Rollbacks,
		m.VersionConflicts,
		m.RelayClients,
		m.RelayPublished,
		m.SyncState,
		m.SyncReconnects,
		m.BroadcastFailures,
		m.PendingSaves,
		m.BusDeliveries,
		m.BusPanics,
	)
	return m
}

// SetState marks state as the only active sync channel state
// SetState 将 state 标记为唯一的当前状态
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SyncState.WithLabelValues(s).Set(v)
	}
}
