// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpkit",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Number of RPC requests by route and status.",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "erpkit",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "Duration of RPC requests by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	calls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpkit",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Number of call_kw calls by model and method.",
	}, []string{"model", "method"})
)

// metricsMiddleware counts requests and observes their duration
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
