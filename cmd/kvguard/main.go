package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvguard/kvguard"
	"github.com/kvguard/kvguard/log"
)

var (
	configFile string
	replicas   []string

	// embedded demo cluster knobs
	embedded    int
	timeoutRate float64
	cancelRate  float64
	maxDelayMS  int

	serveAddr string
	serveName string
)

func main() {
	root := &cobra.Command{
		Use:   "kvguard",
		Short: "linearizability fuzzing harness for replicated key-value stores",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "run the workload and report validity",
		RunE:  runWorkload,
	}
	run.Flags().StringVarP(&configFile, "config", "c", "", "workload config file")
	run.Flags().StringArrayVarP(&replicas, "replica", "r", nil, "replica as name=url, repeatable")
	run.Flags().IntVar(&embedded, "embedded", 0, "run against this many embedded in-process replicas instead")
	run.Flags().Float64Var(&timeoutRate, "timeout-rate", 0.05, "injected timeout rate for embedded replicas")
	run.Flags().Float64Var(&cancelRate, "cancel-rate", 0.05, "injected cancellation rate for embedded replicas")
	run.Flags().IntVar(&maxDelayMS, "max-delay", 20, "max injected delay in ms for embedded replicas")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "serve an in-memory replica over http",
		RunE:  serveReplica,
	}
	serve.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serve.Flags().StringVar(&serveName, "name", "mem0", "replica name")

	root.AddCommand(run, serve)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorkload(cmd *cobra.Command, args []string) error {
	cfg := kvguard.DefaultConfig()
	if configFile != "" {
		if err := cfg.Load(configFile); err != nil {
			return err
		}
	}
	for _, r := range replicas {
		name, url, ok := strings.Cut(r, "=")
		if !ok {
			log.Fatalf("malformed replica %q, want name=url", r)
		}
		if cfg.Replicas == nil {
			cfg.Replicas = make(map[string]string)
		}
		cfg.Replicas[name] = url
	}

	stores, err := buildStores(cfg)
	if err != nil {
		return err
	}

	if cfg.EventLog != "" {
		f, err := os.Create(cfg.EventLog)
		if err != nil {
			return err
		}
		defer f.Close()
		kvguard.SetEventSink(f)
	}

	log.Infof("starting workload: %s", cfg)
	w := kvguard.NewWorkload(cfg, stores)
	res, err := w.Run(context.Background())
	if err != nil {
		return err
	}
	log.Infof("valid=%v", res.Valid)
	if !res.Valid {
		log.Error(res.Violation)
		os.Exit(1)
	}
	if !res.OfflineValid {
		log.Error("offline re-check found the history not linearizable")
		os.Exit(1)
	}
	return nil
}

func buildStores(cfg kvguard.Config) ([]kvguard.Store, error) {
	if len(cfg.Replicas) == 0 {
		if embedded <= 0 {
			embedded = 3
		}
		// one shared register set behind several flaky replica handles
		shared := kvguard.NewMemStore("mem0")
		stores := make([]kvguard.Store, 0, embedded)
		for i := 0; i < embedded; i++ {
			name := fmt.Sprintf("mem%d", i)
			stores = append(stores, kvguard.NewFlakyStore(
				shared.Replica(name), timeoutRate, cancelRate,
				time.Duration(maxDelayMS)*time.Millisecond))
		}
		return stores, nil
	}
	stores := make([]kvguard.Store, 0, len(cfg.Replicas))
	for name, url := range cfg.Replicas {
		s, err := kvguard.NewHTTPStore(name, url, cfg.Timeout())
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, nil
}

func serveReplica(cmd *cobra.Command, args []string) error {
	h := kvguard.NewStoreHandler(kvguard.NewMemStore(serveName))
	log.Infof("replica %s listening on %s", serveName, serveAddr)
	return http.ListenAndServe(serveAddr, h)
}
