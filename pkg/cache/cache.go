// Package cache keeps the admin dashboard's cached views consistent with
// ingestion: cached pages live in Redis and are invalidated per path, locally
// and across nodes through Kafka.
package cache

import (
	"context"
	"errors"

	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/observability/metrics"
)

// Dashboard paths whose views depend on ingestion state.
const (
	PathDashboard = "/admin"
	PathLogs      = "/admin/logs"
	PathPipeline  = "/admin/pipeline"
)

var DashboardPaths = []string{PathDashboard, PathLogs, PathPipeline}

type Invalidator interface {
	Invalidate(ctx context.Context, path string) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, path string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, path string) error {
	return f(ctx, path)
}

// Multi invalidates through every member, attempting all of them.
type Multi []Invalidator

func (m Multi) Invalidate(ctx context.Context, path string) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvalidateAll invalidates each path and returns the joined failures.
func InvalidateAll(ctx context.Context, inv Invalidator, paths ...string) error {
	var errs []error
	for _, path := range paths {
		if err := inv.Invalidate(ctx, path); err != nil {
			metrics.CacheInvalidations.WithLabelValues("failed").Inc()
			logger.Log.WithError(err).WithField("path", path).Warn("Cache invalidation failed")
			errs = append(errs, err)
			continue
		}
		metrics.CacheInvalidations.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}
