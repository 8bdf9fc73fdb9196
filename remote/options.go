// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package remote

import (
	"time"

	"code.hybscloud.com/netpipe/metrics"
	"code.hybscloud.com/netpipe/rpclog"
)

// Options configures an Async or Peer Remote, following the same
// functional-options pattern as the teacher's framer.Options.
type Options struct {
	Metrics         *metrics.Metrics
	Logger          *rpclog.Logger
	MaxConcurrent   int
	PollInterval    time.Duration
	HandlerPoolSize int
}

var defaultOptions = Options{
	MaxConcurrent:   0, // 0 means unlimited
	PollInterval:    100 * time.Millisecond,
	HandlerPoolSize: 0, // 0 means handlers run inline on the receiver goroutine
}

type Option func(*Options)

// WithMetrics opts the Remote into collecting the spec's metrics
// surface. Metrics collection is opt-in per Remote instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *rpclog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMaxConcurrent caps the number of in-flight requests a call() may
// have outstanding at once. 0 (the default) means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) { o.MaxConcurrent = n }
}

// WithPollInterval overrides the receiver task's internal stream recv
// timeout, used only so the receiver can periodically re-check its
// running flag (spec.md §5: "~100ms").
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.PollInterval = d }
}

// WithHandlerPool dispatches handler invocations on an errgroup.Group
// limited to n concurrent goroutines (via SetLimit) instead of running
// them inline on the receiver goroutine. This is the optional
// handler-pool extension spec.md §9 permits but does not require; it
// trades the sequential handler-execution-ordering guarantee for
// concurrency, and requires (already true here) that sends be
// serialized.
func WithHandlerPool(n int) Option {
	return func(o *Options) { o.HandlerPoolSize = n }
}
