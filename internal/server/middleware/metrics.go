package middleware

import (
	"errors"
	"reflect"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsConfig struct {
	Skipper      Skipper
	Namespace    string
	Subsystem    string
	Buckets      []float64
	GroupStatus  bool
	MetricsPath  string
	NotFoundPath string
}

const requestDurationName = "request_duration_seconds"

// DefaultMetricsConfig exposes relay_http_request_duration_seconds on /metrics.
var DefaultMetricsConfig = MetricsConfig{
	Skipper:      DefaultSkipper,
	Namespace:    "relay",
	Subsystem:    "http",
	Buckets:      []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	MetricsPath:  "/metrics",
	NotFoundPath: "/not-found",
}

func statusClass(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	}
	return "5xx"
}

func isNotFoundHandler(handler echo.HandlerFunc) bool {
	return reflect.ValueOf(handler).Pointer() == reflect.ValueOf(echo.NotFoundHandler).Pointer()
}

func Metrics() echo.MiddlewareFunc {
	return MetricsWithConfig(DefaultMetricsConfig)
}

// MetricsWithConfig observes request latency per route and serves the
// prometheus registry on config.MetricsPath. Unknown routes share one label
// value so scanners cannot blow up cardinality.
func MetricsWithConfig(config MetricsConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = DefaultSkipper
	}
	if config.NotFoundPath == "" {
		config.NotFoundPath = DefaultMetricsConfig.NotFoundPath
	}
	durations := requestDurations(config)

	var scrape echo.HandlerFunc
	if config.MetricsPath != "" {
		scrape = echo.WrapHandler(promhttp.Handler())
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if scrape != nil && req.URL.Path == config.MetricsPath {
				return scrape(c)
			}
			if config.Skipper(c) {
				return next(c)
			}

			route := c.Path()
			if isNotFoundHandler(c.Handler()) {
				route = config.NotFoundPath
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := strconv.Itoa(c.Response().Status)
			if config.GroupStatus {
				status = statusClass(c.Response().Status)
			}
			durations.WithLabelValues(status, req.Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func requestDurations(config MetricsConfig) *prometheus.HistogramVec {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      requestDurationName,
		Help:      "Time spent serving a route",
		Buckets:   config.Buckets,
	}, []string{"code", "method", "path"})
	if err := prometheus.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		panic(err)
	}
	return vec
}
