package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"

	"github.com/ponderengine/core/internal/alert"
	"github.com/ponderengine/core/internal/chainsync"
	"github.com/ponderengine/core/internal/chainsync/algorand"
	"github.com/ponderengine/core/internal/chainsync/evm"
	"github.com/ponderengine/core/internal/client"
	"github.com/ponderengine/core/internal/config"
	"github.com/ponderengine/core/internal/engine"
	"github.com/ponderengine/core/internal/event"
	"github.com/ponderengine/core/internal/health"
	"github.com/ponderengine/core/internal/logging"
	"github.com/ponderengine/core/internal/merge"
	"github.com/ponderengine/core/internal/metrics"
	"github.com/ponderengine/core/internal/reorgstore"
	"github.com/ponderengine/core/internal/schema"
)

// exitDeepReorg is EX_TEMPFAIL: the engine hit a reorg deeper than any
// chain's finality window and cannot recover automatically (SPEC_FULL.md
// §6).
const exitDeepReorg = 75

var (
	flagOnce        bool
	flagHealthAddr  string
	flagMetricsAddr string
	flagFrom        uint64
)

func newRunCmd(registry *engine.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the indexing engine to completion or forever",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), registry)
		},
	}
	cmd.Flags().BoolVar(&flagOnce, "once", false, "Poll every chain once, process the merged round, and exit")
	cmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start every chain from this height/round override")
	cmd.Flags().StringVar(&flagHealthAddr, "health", "", "Health check HTTP address (e.g., :8080)")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics", "", "Metrics HTTP address (e.g., :9090)")
	return cmd
}

// poller is the subset of evm.Adapter / algorand.Adapter that run.go needs
// to drive the merge and health layers without depending on either
// concrete chain package beyond construction.
type poller interface {
	ChainID() uint64
	PollOnce(ctx context.Context) ([]chainsync.Update, []event.RawItem, error)
}

func runEngine(ctx context.Context, registry *engine.Registry) error {
	log := logging.NewWithLevel(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	desc, err := schema.LoadDescriptor(schemaPath)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	sources, err := cfg.Sources()
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}

	store, err := reorgstore.Open(cfg.Global.Database, desc)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	safeCheckpoint, latestCheckpoint, hasCheckpoint, err := store.GetCheckpoints(ctx, defaultNamespace)
	if err != nil {
		return fmt.Errorf("read checkpoints: %w", err)
	}

	pollers := map[uint64]health.Pinger{}
	rpcClients := map[uint64]*client.Client{}
	mergeSources := make([]merge.Source, 0, len(cfg.Chains))

	for _, ch := range cfg.Chains {
		finalityDepth := ch.FinalityDepth
		if finalityDepth == 0 {
			finalityDepth = chainsync.FinalityDepth(ch.ID)
		}
		if cfg.Global.FinalityDepth != 0 {
			finalityDepth = cfg.Global.FinalityDepth
		}

		var p poller
		switch strings.ToLower(ch.Type) {
		case "evm":
			rpcClient, err := evm.NewRPCClient(ch.RPCURL)
			if err != nil {
				return fmt.Errorf("chain %d: dial rpc: %w", ch.ID, err)
			}
			abis, err := evm.LoadABIs(ch.ABIDirs)
			if err != nil {
				return fmt.Errorf("chain %d: load abis: %w", ch.ID, err)
			}
			adapter, err := evm.NewAdapter(rpcClient, ch.ID, finalityDepth, abis, sources)
			if err != nil {
				return fmt.Errorf("chain %d: build adapter: %w", ch.ID, err)
			}
			adapter.Start(flagFrom)
			p = adapter

			caller, err := evmCaller(ch.RPCURL)
			if err != nil {
				return fmt.Errorf("chain %d: rpc caller: %w", ch.ID, err)
			}
			rpcClients[ch.ID] = client.New(caller)

		case "algorand":
			algodClient, err := algorand.NewAlgodClient(ch.RPCURL)
			if err != nil {
				return fmt.Errorf("chain %d: dial algod: %w", ch.ID, err)
			}
			adapter, err := algorand.NewAdapter(algodClient, ch.ID, finalityDepth, sources)
			if err != nil {
				return fmt.Errorf("chain %d: build adapter: %w", ch.ID, err)
			}
			adapter.Start(flagFrom)
			p = adapter

		default:
			return fmt.Errorf("chain %d: unsupported type %s", ch.ID, ch.Type)
		}

		pollers[ch.ID] = p.(health.Pinger)
		mergeSources = append(mergeSources, &realtimeSource{chainID: ch.ID, poller: p, sources: sources, log: log})
	}

	exec := engine.NewExecutor(store, registry, rpcClients)

	if hasCheckpoint && latestCheckpoint > safeCheckpoint {
		log.Warn("crash recovery: latest checkpoint ahead of safe checkpoint, reverting",
			"safe", safeCheckpoint, "latest", latestCheckpoint)
		if _, err := exec.RevertTo(ctx, defaultNamespace, safeCheckpoint); err != nil {
			return fmt.Errorf("crash recovery: revert to %s: %w", safeCheckpoint, err)
		}
	}

	if !hasCheckpoint {
		for _, ch := range cfg.Chains {
			setupEvents := event.BuildSetupEvents(ch.ID, sources)
			if len(setupEvents) == 0 {
				continue
			}
			if err := exec.ApplyHistoricalBatch(ctx, defaultNamespace, setupEvents); err != nil {
				return fmt.Errorf("chain %d: apply setup events: %w", ch.ID, err)
			}
		}
	}

	mtr := metrics.Init()
	mtr.SettingsInfo(cfg.Global.Ordering, cfg.Global.Database, "run")

	if flagHealthAddr != "" {
		checker := health.NewRPCChecker(pollers)
		srv := health.Serve(flagHealthAddr, health.Checker{DBPing: store.Ping, RPCPing: checker.Ping})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = health.Shutdown(shutdownCtx, srv)
		}()
		log.Info("health check enabled", "addr", flagHealthAddr)
	}

	if flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: flagMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
		log.Info("metrics enabled", "addr", flagMetricsAddr)
	}

	policy := merge.Omnichain
	if strings.EqualFold(cfg.Global.Ordering, "multichain") {
		policy = merge.Multichain
	}

	sender, err := alertSender(cfg.Alert)
	if err != nil {
		return fmt.Errorf("build alert sender: %w", err)
	}

	state := newRunState(cfg.Chains)

	for {
		err := tick(ctx, policy, mergeSources, exec, state, mtr, log)
		if err != nil {
			if errors.Is(err, chainsync.ErrDeepReorg) {
				log.Error("deep reorg: exceeds finality depth, exiting", "error", err)
				sendFatal(log, sender, alert.FatalReport{
					Severity: "unrecoverable",
					Handler:  "reorg",
					Message:  err.Error(),
				})
				os.Exit(exitDeepReorg)
			}
			if ctx.Err() != nil {
				log.Info("shutdown signal received")
				return nil
			}
			log.Error("run error", "error", err)
			sendFatal(log, sender, alert.FatalReport{
				Severity: "unrecoverable",
				Message:  err.Error(),
			})
			return err
		}
		if flagOnce {
			break
		}
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return nil
		case <-time.After(time.Second):
		}
	}
	return nil
}

// execMode is which of C6's two dispatch modes the run loop is currently
// driving (SPEC_FULL.md §4.6): historical (batched) until every chain's
// latest applied event has caught up to its latest finalized block, then
// realtime (one transaction per event) for the rest of the run.
type execMode int

const (
	modeHistorical execMode = iota
	modeRealtime
)

// runState tracks the historical/realtime mode switch across tick calls:
// per chain, the latest finalized checkpoint seen (from Finalize control
// updates) and the latest event checkpoint actually applied.
type runState struct {
	mode        execMode
	chainIDs    []uint64
	finalized   map[uint64]string
	lastApplied map[uint64]string
}

func newRunState(chains []config.Chain) *runState {
	ids := make([]uint64, len(chains))
	for i, ch := range chains {
		ids[i] = ch.ID
	}
	return &runState{
		mode:        modeHistorical,
		chainIDs:    ids,
		finalized:   map[uint64]string{},
		lastApplied: map[uint64]string{},
	}
}

// readyForRealtime reports whether every configured chain has an applied
// event caught up to its latest finalized block, the §4.6 condition for
// leaving historical mode.
func (s *runState) readyForRealtime() bool {
	if s.mode == modeRealtime {
		return false
	}
	for _, id := range s.chainIDs {
		fin, ok := s.finalized[id]
		if !ok {
			return false
		}
		last, ok := s.lastApplied[id]
		if !ok || last < fin {
			return false
		}
	}
	return true
}

type deepReorgError struct{ err error }

func (e deepReorgError) Error() string { return e.err.Error() }
func (e deepReorgError) Unwrap() error { return e.err }

// tick polls every chain's source exactly once (merge.MergeOnce), applies
// any control updates inline (flushing any open historical batch first, per
// SPEC_FULL.md §4.3), dispatches events through whichever of C6's two modes
// state.mode currently selects, and switches state from historical to
// realtime once every chain has caught up to its latest finalized block.
func tick(ctx context.Context, policy merge.Policy, sources []merge.Source, exec *engine.Executor, state *runState, mtr *metrics.Metrics, log *slog.Logger) error {
	var batch []event.Event
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := exec.ApplyHistoricalBatch(ctx, defaultNamespace, batch); err != nil {
			return err
		}
		batch = nil
		return nil
	}

	mergeErr := merge.MergeOnce(ctx, policy, sources, func(item merge.Item) error {
		for _, u := range item.Updates {
			if err := flush(); err != nil {
				return err
			}
			n, err := exec.ApplyControlUpdate(ctx, defaultNamespace, item.ChainID, u)
			if err != nil {
				if err == chainsync.ErrDeepReorg {
					return deepReorgError{err}
				}
				return err
			}
			chainLabel := fmt.Sprintf("%d", item.ChainID)
			switch u.Kind {
			case chainsync.UpdateReorg:
				mtr.ReorgDetected(chainLabel, float64(len(u.Reorged)))
				mtr.RevertRows("*", float64(n))
			case chainsync.UpdateFinalize:
				mtr.FinalizedRows("*", float64(n))
				state.finalized[item.ChainID] = engine.BlockCheckpoint(item.ChainID, u.FinalizedBlock)
			}
		}

		for _, ev := range item.Events {
			mtr.EventsProcessed(ev.Name)
			if state.mode == modeRealtime {
				if err := flush(); err != nil {
					return err
				}
				if err := exec.ApplyRealtimeEvent(ctx, defaultNamespace, ev); err != nil {
					return err
				}
			} else {
				batch = append(batch, ev)
			}
			state.lastApplied[item.ChainID] = ev.Checkpoint
		}

		if state.readyForRealtime() {
			if err := flush(); err != nil {
				return err
			}
			log.Info("switching to realtime mode: every chain has caught up to its latest finalized block")
			state.mode = modeRealtime
		}
		return nil
	})
	if mergeErr != nil {
		return mergeErr
	}
	return flush()
}

// realtimeSource adapts a chainsync poller (evm.Adapter or
// algorand.Adapter) into a merge.Source: it polls once per Next call and
// turns matched RawItems into checkpoint-ordered Events via event.Build.
// It never reports exhaustion (ok is always true) since chain sync has no
// natural end.
type realtimeSource struct {
	chainID uint64
	poller  poller
	sources []event.Source
	log     *slog.Logger
}

func (s *realtimeSource) ChainID() uint64 { return s.chainID }

func (s *realtimeSource) Next(ctx context.Context) ([]chainsync.Update, []event.Event, bool, error) {
	updates, items, err := s.poller.PollOnce(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	events := event.Build(items, s.sources, s.log)
	return updates, events, true, nil
}

// alertSender builds the Sender a fatal error is reported through, or nil if
// no alert block is configured (cfg.Alert == nil is the common case: the
// structured log line from sendFatal's caller is the only fatal-error
// surface SPEC_FULL.md §7 requires; the alert block is an operator opt-in).
func alertSender(a *config.Alert) (alert.Sender, error) {
	if a == nil {
		return nil, nil
	}
	switch strings.ToLower(a.Type) {
	case "slack":
		return alert.NewSlackSender(a.WebhookURL, a.Template)
	case "teams":
		return alert.NewTeamsSender(a.WebhookURL, a.Template)
	case "webhook":
		return alert.NewWebhookSender(a.URL, a.Method, a.Template, nil)
	default:
		return nil, fmt.Errorf("unsupported alert type: %s", a.Type)
	}
}

// sendFatal best-effort delivers report through sender, if one is
// configured. It never returns an error: a failed notification must not
// mask or delay the engine's own fatal-error exit.
func sendFatal(log *slog.Logger, sender alert.Sender, report alert.FatalReport) {
	if sender == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sender.Send(sendCtx, report); err != nil {
		log.Error("fatal alert delivery failed", "error", err)
	}
}

// evmCaller builds a client.Caller over a raw JSON-RPC connection, used to
// give handler code (Context.Client) read-only RPC access independent of
// the adapter's own polling connection.
func evmCaller(rpcURL string) (client.Caller, error) {
	rpcClient, err := rpc.DialContext(context.Background(), rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		ps, _ := params.([]any)
		var raw json.RawMessage
		if err := rpcClient.CallContext(ctx, &raw, method, ps...); err != nil {
			return nil, err
		}
		return raw, nil
	}, nil
}
