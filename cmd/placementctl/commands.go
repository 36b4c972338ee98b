package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-placement/config"
	"mini-placement/director"
	"mini-placement/membership"
	"mini-placement/middleware"
	"mini-placement/placement"
)

func newRootCommand() *cobra.Command {
	opts := NewOptions()

	cmd := &cobra.Command{
		Use:           "placementctl",
		Short:         "Operate and exercise the activation placement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newSimulateCommand(opts),
		newNodesCommand(opts),
		newJoinCommand(opts),
	)
	return cmd
}

// openMembership builds the configured store and an oracle over it. For etcd
// the oracle follows the store's watch so joins and leaves show up before the
// cache ttl runs out.
func openMembership(ctx context.Context, cfg *config.Config, logger *zap.Logger) (membership.Store, membership.Oracle, error) {
	store, err := cfg.BuildStore(logger)
	if err != nil {
		return nil, nil, err
	}
	oracle := cfg.BuildOracle(store)
	if es, ok := store.(*membership.EtcdStore); ok {
		go oracle.Follow(ctx, es.Watch(ctx))
	}
	return store, oracle, nil
}

type simulateOptions struct {
	ActorType   string
	Count       int
	Concurrency int
}

func newSimulateCommand(root *Options) *cobra.Command {
	opts := &simulateOptions{Count: 100, Concurrency: 1}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run placements through the configured pipeline and print the distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.Load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runSimulate(cmd, cfg, logger, opts)
		},
	}
	cmd.Flags().StringVar(&opts.ActorType, "actor-type", opts.ActorType, "Actor type to place")
	cmd.Flags().IntVar(&opts.Count, "count", opts.Count, "Number of placements")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", opts.Concurrency, "Concurrent callers")
	return cmd
}

func runSimulate(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, opts *simulateOptions) error {
	if opts.ActorType == "" {
		return errors.New("--actor-type is required")
	}
	if opts.Count <= 0 || opts.Concurrency <= 0 {
		return errors.New("--count and --concurrency must be positive")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	policies, err := cfg.BuildRegistry()
	if err != nil {
		return err
	}
	store, oracle, err := openMembership(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	promRegistry := prometheus.NewRegistry()
	metrics, err := middleware.NewMetrics(promRegistry)
	if err != nil {
		return err
	}
	d := director.New(policies, oracle, logger, cfg.Middlewares(logger, metrics)...)

	var (
		remaining atomic.Int64
		mu        sync.Mutex
		counts    = map[placement.NodeAddress]int{}
		failures  error
		wg        sync.WaitGroup
	)
	remaining.Store(int64(opts.Count))
	start := time.Now()
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for remaining.Add(-1) >= 0 {
				node, err := d.Place(ctx, placement.Target{ActorType: opts.ActorType})
				mu.Lock()
				if err != nil {
					failures = multierr.Append(failures, err)
				} else {
					counts[node]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	nodes := make([]placement.NodeAddress, 0, len(counts))
	for n := range counts {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, placement.NodeAddress.Compare)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tPLACEMENTS")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%d\n", n, counts[n])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	decided, err := decisionsTotal(promRegistry)
	if err != nil {
		return err
	}
	errs := multierr.Errors(failures)
	fmt.Fprintf(cmd.OutOrStdout(), "decided=%d failed=%d elapsed=%s\n", decided, len(errs), elapsed.Round(time.Microsecond))
	if len(errs) > 0 {
		return fmt.Errorf("%d placements failed, first: %w", len(errs), errs[0])
	}
	return nil
}

func decisionsTotal(g prometheus.Gatherer) (int, error) {
	families, err := g.Gather()
	if err != nil {
		return 0, err
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != "placement_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return int(total), nil
}

func newNodesCommand(root *Options) *cobra.Command {
	var actorType string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes known to membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.Load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, err := cfg.BuildStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Nodes(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tACTOR TYPES\tVERSION")
			for _, r := range records {
				if actorType != "" && !r.Hosts(actorType) {
					continue
				}
				types := "*"
				if len(r.ActorTypes) > 0 {
					types = strings.Join(r.ActorTypes, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Address, types, r.Version)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&actorType, "actor-type", "", "Only list nodes that can host this actor type")
	return cmd
}

type joinOptions struct {
	Endpoint   string
	Generation int64
	ActorTypes []string
	Version    string
	TTL        int64
}

func newJoinCommand(root *Options) *cobra.Command {
	opts := &joinOptions{Generation: time.Now().Unix(), TTL: 10}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Register a worker node with membership until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.Load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if cfg.Membership.Backend != config.BackendEtcd {
				return fmt.Errorf("join needs the %s membership backend, config uses %s", config.BackendEtcd, cfg.Membership.Backend)
			}
			if opts.Endpoint == "" {
				return errors.New("--endpoint is required")
			}

			store, err := cfg.BuildStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			record := membership.NodeRecord{
				Address:    placement.NodeAddress{Endpoint: opts.Endpoint, Generation: opts.Generation},
				ActorTypes: opts.ActorTypes,
				Version:    opts.Version,
			}
			if err := store.Register(ctx, record, opts.TTL); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined as %s\n", record.Address)

			<-ctx.Done()
			logger.Info("received shutdown signal, leaving membership")

			// Leave first so no new activations are placed here
			leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Deregister(leaveCtx, record.Address)
		},
	}
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", opts.Endpoint, "host:port the node serves activations on")
	cmd.Flags().Int64Var(&opts.Generation, "generation", opts.Generation, "Node generation, defaults to the current unix time")
	cmd.Flags().StringSliceVar(&opts.ActorTypes, "actor-types", opts.ActorTypes, "Actor types this node hosts, empty for any")
	cmd.Flags().StringVar(&opts.Version, "version", opts.Version, "Node version string")
	cmd.Flags().Int64Var(&opts.TTL, "ttl", opts.TTL, "Membership lease TTL in seconds")
	return cmd
}
