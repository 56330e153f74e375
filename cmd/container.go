// cmd/container.go
//
// Root composition root. Owns process-wide infrastructure (metrics registry)
// and runs the IAM readiness sequence. Nothing serves until it succeeds.
package main

import (
	"context"
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/iam/iamcontainer"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/metricsx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// startupTimeout bounds the whole readiness sequence, probes included.
const startupTimeout = 60 * time.Second

// Container holds shared infrastructure and composed module containers.
type Container struct {
	Config *config.Config

	// Infrastructure
	Registry *prometheus.Registry
	Metrics  *metricsx.Collector

	// Bounded-context containers
	IAM *iamcontainer.Container
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}
	c.initMetrics()
	c.initModules()

	logx.Info("✅ Application container initialized")
	return c
}

func (c *Container) initMetrics() {
	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metricsx.NewCollector(c.Registry)
	logx.Info("  ✅ Metrics registry ready")
}

func (c *Container) initModules() {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	iam, err := iamcontainer.NewReadiness(iamcontainer.Deps{
		Cfg:     c.Config,
		Metrics: c.Metrics,
	}).Run(ctx)
	if err != nil {
		logx.Fatalf("IAM module is not ready: %v", err)
	}
	c.IAM = iam
}

// Cleanup closes backend connections. Call it after the server stopped.
func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")
	if c.IAM != nil {
		if err := c.IAM.Close(); err != nil {
			logx.WithError(err).Warn("Closing IAM backends")
		}
	}
	logx.Info("✅ Cleanup complete")
}
