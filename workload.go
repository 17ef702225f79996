package kvguard

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kvguard/kvguard/log"
)

// Result is the outcome of a workload run
type Result struct {
	Valid     bool
	Violation string
	// OfflineValid is the porcupine re-check verdict over the retained
	// history; true when the re-check is disabled
	OfflineValid bool
}

// Workload assembles the experiment: it seeds every key, spawns the
// writer/reader population, runs it for a bounded window while polling
// validity on a coarse interval, then stops all clients and reports.
type Workload struct {
	cfg     Config
	stores  []Store
	checker *Checker
	stat    *Stat
}

// NewWorkload creates a workload over the given replicas
func NewWorkload(cfg Config, stores []Store) *Workload {
	return &Workload{
		cfg:     cfg,
		stores:  stores,
		checker: NewChecker(),
		stat:    NewStat(),
	}
}

// Checker exposes the online checker, mostly for tests
func (w *Workload) Checker() *Checker { return w.checker }

// Stat exposes the run counters
func (w *Workload) Stat() *Stat { return w.stat }

type client interface {
	Stop()
	Run(ctx context.Context) error
}

// Run executes the workload. The returned error is a setup failure or a
// harness usage fault; a store consistency bug is reported in Result.
func (w *Workload) Run(ctx context.Context) (*Result, error) {
	if len(w.stores) == 0 {
		return nil, errors.New("no replicas configured")
	}

	keys := make([]string, w.cfg.Keys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%d", i)
	}

	// seed each key on the first replica that accepts the write
	initOps := make(map[string]string, len(keys))
	for _, key := range keys {
		initOp, err := w.initKey(ctx, key)
		if err != nil {
			return nil, err
		}
		initOps[key] = initOp
	}

	dims := lo.FlatMap(w.stores, func(s Store, _ int) []string {
		return []string{s.Name() + ":ok", s.Name() + ":out", s.Name() + ":err"}
	})
	dims = append(dims, "size")
	dumper := NewStatDumper(w.stat, dims, w.cfg.DumpInterval())
	defer dumper.Stop()

	// throttle is per client, so every client gets its own limiter
	newLimiter := func() *rate.Limiter {
		if w.cfg.Throttle <= 0 {
			return nil
		}
		return rate.NewLimiter(rate.Limit(w.cfg.Throttle), 1)
	}

	startedAt := time.Now()
	var clients []client
	for _, key := range keys {
		for _, s := range w.stores {
			clients = append(clients, NewWriter(startedAt, w.stat, w.checker, s, key, initOps[key], newLimiter()))
			for i := 0; i < w.cfg.Readers; i++ {
				clients = append(clients, NewReader(startedAt, w.stat, w.checker, s, key, newLimiter()))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clients {
		c := c
		g.Go(func() error { return c.Run(gctx) })
	}

	// coarse validity polling; bounded detection latency is the accepted
	// tradeoff for simplicity
	deadline := startedAt.Add(w.cfg.Duration())
	poll := w.cfg.PollInterval()
	for w.checker.Valid() && ctx.Err() == nil {
		if time.Now().Add(poll).After(deadline) {
			break
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
		}
	}

	for _, c := range clients {
		c.Stop()
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Valid:        w.checker.Valid(),
		Violation:    w.checker.Err(),
		OfflineValid: true,
	}
	log.Infof("workload finished: valid=%v %s", res.Valid, res.Violation)
	log.Info(w.stat.Summary())

	history := w.checker.History()
	if w.cfg.HistoryFile != "" {
		if err := history.WriteFile(w.cfg.HistoryFile); err != nil {
			log.Error(err)
		}
	}
	if w.cfg.OfflineCheck {
		res.OfflineValid = history.Linearizable()
		log.Infof("offline re-check: linearizable=%v", res.OfflineValid)
	}
	return res, nil
}

func (w *Workload) initKey(ctx context.Context, key string) (string, error) {
	opID := uuid.NewString()
	for _, s := range w.stores {
		if err := s.Put(ctx, key, FormatValue(0), opID); err != nil {
			log.Warningf("replica %s rejected initial write for %s: %v", s.Name(), key, err)
			continue
		}
		if err := w.checker.Init(opID, key, 0, FormatValue(0)); err != nil {
			return "", err
		}
		return opID, nil
	}
	return "", errors.Newf("all replicas rejected initial write for key %s", key)
}
