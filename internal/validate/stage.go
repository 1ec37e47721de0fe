// Package validate implements the validation loop stage: on the
// configured interval, it runs the TAL dispatcher against the cache
// and publishes the merged VRP table to the RTR Delta Store.
//
// Grounded on core.Stage's Attach/Prepare/Run/Stop shape, generalized
// from a single BGP pipe stage to the top-level validation daemon loop;
// the interval-or-once behavior mirrors stages/rpki/rpki.go's Prepare()
// blocking on cache readiness before Run() starts serving.
package validate

import (
	"context"
	"sort"
	"time"

	"github.com/rpkid/rpkid/core"
	"github.com/rpkid/rpkid/internal/notify"
	"github.com/rpkid/rpkid/pkg/dispatch"
	"github.com/rpkid/rpkid/pkg/rpki"
	"github.com/rpkid/rpkid/pkg/rpki/snapshot"
	"github.com/rpkid/rpkid/pkg/rtr"
)

// Stage runs the TAL dispatcher on a timer and publishes results to
// Store.
type Stage struct {
	*core.StageBase

	Store *rtr.Store

	// OnPublish, if set, is called after every successful runOnce — the
	// diagnostics stage hooks this to push a websocket event without
	// validate importing diag directly.
	OnPublish func()

	// Notify, if set, publishes a Kafka record after every successful
	// runOnce.
	Notify *notify.Publisher

	talDir         string
	cacheDir       string
	interval       time.Duration
	offline        bool
	shuffleURIs    bool
	maxDepth       int
	filenameFormat string
	snapshotFile   string

	rsyncEnabled, rrdpEnabled   bool
	rsyncPriority, rrdpPriority uint
	fetchTimeout                time.Duration

	dispatcher *dispatch.Dispatcher
}

// New is an core.Engine.AddStage factory.
func New(store *rtr.Store) func(*core.StageBase) core.Stage {
	return func(base *core.StageBase) core.Stage {
		return &Stage{StageBase: base, Store: store}
	}
}

func (s *Stage) Attach() error {
	k := s.E.K
	s.talDir = k.String("tal-dir")
	s.cacheDir = k.String("cache-dir")
	s.interval = k.Duration("validation-interval")
	s.offline = k.Bool("offline")
	s.shuffleURIs = k.Bool("shuffle-tal-uris")
	s.maxDepth = k.Int("max-cert-depth")
	s.filenameFormat = k.String("filename-format")
	s.snapshotFile = k.String("snapshot-file")

	s.rsyncEnabled = k.Bool("rsync-enabled")
	s.rrdpEnabled = k.Bool("rrdp-enabled")
	s.rsyncPriority = uint(k.Int("rsync-priority"))
	s.rrdpPriority = uint(k.Int("rrdp-priority"))
	s.fetchTimeout = k.Duration("fetch-timeout")

	cache, err := rpki.NewCache(s.cacheDir, s.filenameFormat)
	if err != nil {
		return s.Errorf("cache dir: %w", err)
	}

	var fetchers rpki.Fetchers
	if s.rsyncEnabled {
		fetchers = append(fetchers, &rpki.RsyncFetcher{Priority: s.rsyncPriority, Log: s.Logger})
	}
	if s.rrdpEnabled {
		fetchers = append(fetchers, &rpki.RRDPFetcher{Priority: s.rrdpPriority, Log: s.Logger})
	}
	sort.SliceStable(fetchers, func(i, j int) bool { return priorityOf(fetchers[i]) > priorityOf(fetchers[j]) })

	s.dispatcher = &dispatch.Dispatcher{
		Fetchers:    fetchers,
		Cache:       cache,
		Reader:      rpki.DefaultObjectReader{},
		Verifier:    &rpki.CertVerifier{},
		Log:         s.Logger,
		MaxDepth:    s.maxDepth,
		Offline:     s.offline,
		ShuffleURIs: s.shuffleURIs,
		Rand:        pseudoRand,
	}

	if brokers := k.String("kafka-brokers"); brokers != "" {
		s.Notify = &notify.Publisher{Brokers: brokers, Topic: k.String("kafka-topic"), Log: s.Logger}
		if err := s.Notify.Connect(s.Ctx); err != nil {
			return s.Errorf("kafka-brokers: %w", err)
		}
	}

	return nil
}

func priorityOf(f rpki.Fetcher) uint {
	switch v := f.(type) {
	case *rpki.RsyncFetcher:
		return v.Priority
	case *rpki.RRDPFetcher:
		return v.Priority
	default:
		return 0
	}
}

// pseudoRand is a minimal, dependency-free Fisher-Yates index source;
// TAL URI shuffling only needs to break a fixed preference order, not
// cryptographic randomness.
func pseudoRand(n int) int {
	return int(time.Now().UnixNano()) % n
}

func (s *Stage) Prepare() error {
	if s.offline && s.snapshotFile != "" {
		table, err := snapshot.Load(s.snapshotFile)
		if err != nil {
			return s.Errorf("--snapshot-file: %w", err)
		}
		s.Store.Publish(table)
		s.Info().Int("vrps", table.Len()).Msg("validate: warm-started from snapshot file")
	}

	// run once synchronously so the RTR server never has to answer
	// "no data available" right after startup if validation is fast.
	return s.runOnce()
}

func (s *Stage) Run() error {
	if s.interval <= 0 {
		<-s.Ctx.Done()
		return core.ErrStopped
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.Ctx.Done():
			return core.ErrStopped
		case <-ticker.C:
			if err := s.runOnce(); err != nil {
				s.Warn().Err(err).Msg("validate: run failed, keeping previous table")
				s.E.Metrics.ValidationFailures.Inc()
			}
		}
	}
}

func (s *Stage) Stop() error {
	if s.Notify != nil {
		s.Notify.Close()
	}
	return nil
}

func (s *Stage) runOnce() error {
	start := time.Now()
	ctx := s.Ctx
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}

	table, err := s.dispatcher.Run(ctx, s.talDir)
	s.E.Metrics.ValidationRuns.Inc()
	s.E.Metrics.ValidationDuration.Update(time.Since(start).Seconds())
	if err != nil {
		s.E.Metrics.ValidationFailures.Inc()
		return err
	}

	s.Store.Publish(table)
	s.E.Metrics.VRPCount.Set(float64(table.Len()))
	s.E.Metrics.CurrentSerial.Set(float64(s.Store.CurrentSerial()))
	s.Info().Int("vrps", table.Len()).Dur("elapsed", time.Since(start)).Msg("validate: published new table")

	if s.OnPublish != nil {
		s.OnPublish()
	}
	if s.Notify != nil {
		if err := s.Notify.Publish(s.Ctx, s.Store, start); err != nil {
			s.Warn().Err(err).Msg("validate: kafka publish failed")
		}
	}
	return nil
}
