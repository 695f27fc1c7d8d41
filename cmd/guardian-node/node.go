package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Mindburn-Labs/helm-guardian/pkg/attestation"
	"github.com/Mindburn-Labs/helm-guardian/pkg/audit"
	"github.com/Mindburn-Labs/helm-guardian/pkg/config"
	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/crypto"
	"github.com/Mindburn-Labs/helm-guardian/pkg/execution"
	"github.com/Mindburn-Labs/helm-guardian/pkg/ledger"
	"github.com/Mindburn-Labs/helm-guardian/pkg/manual"
	"github.com/Mindburn-Labs/helm-guardian/pkg/monitor"
	"github.com/Mindburn-Labs/helm-guardian/pkg/notify"
	"github.com/Mindburn-Labs/helm-guardian/pkg/observability"
	"github.com/Mindburn-Labs/helm-guardian/pkg/roster"
	"github.com/Mindburn-Labs/helm-guardian/pkg/settlement"
	"github.com/Mindburn-Labs/helm-guardian/pkg/signature"
	"github.com/Mindburn-Labs/helm-guardian/pkg/store"
)

type drillOptions struct {
	Guardians    int
	Signers      int
	Type         string
	Severity     string
	Urgency      int
	Confidence   float64
	AmountMinor  int64
	Currency     string
	Recipient    string
	ConfirmAfter int
	SignDelay    time.Duration
}

// node is a fully wired engine plus the simulated guardians of a drill.
type node struct {
	logger    *slog.Logger
	engine    *execution.Engine
	collector *signature.Collector
	sandbox   *settlement.SandboxBackend
	audit     *audit.LedgerSink
	issuer    *attestation.Issuer
	signers   map[string]*crypto.Ed25519Signer
	obs       *observability.Provider
	store     *store.SQLStore
	redis     *notify.RedisRegistry
}

func newNode(ctx context.Context, opts drillOptions) (*node, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	policy := &config.Policy{Version: "1.0.0"}
	if cfg.PolicyFile != "" {
		if policy, err = config.LoadPolicyFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	n := &node{logger: logger, signers: make(map[string]*crypto.Ed25519Signer)}

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = cfg.Environment
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Insecure = true
	if n.obs, err = observability.New(ctx, obsCfg); err != nil {
		return nil, err
	}

	var snapshots execution.Snapshotter
	var entries audit.EntryStore
	if cfg.DatabaseURL != "" {
		if n.store, err = store.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		snapshots, entries = n.store, n.store
	}

	ldg := ledger.New()
	if n.store != nil {
		prior, err := n.store.LoadEntries(ctx)
		if err != nil {
			return nil, err
		}
		if err := ldg.Restore(prior); err != nil {
			return nil, fmt.Errorf("audit ledger: %w", err)
		}
	}
	n.audit = audit.NewLedgerSink(ldg, entries)

	var responses notify.Registry = notify.NewMemoryRegistry()
	if cfg.RedisAddr != "" {
		n.redis = notify.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := n.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		responses = n.redis
	}

	dir, err := roster.NewDirectory()
	if err != nil {
		return nil, err
	}
	for i := 1; i <= opts.Guardians; i++ {
		id := fmt.Sprintf("guardian-%02d", i)
		s, err := crypto.NewEd25519Signer(id)
		if err != nil {
			return nil, err
		}
		n.signers[id] = s
		ch := contracts.ChannelEmail
		if i%2 == 0 {
			ch = contracts.ChannelPush
		}
		if err := dir.Add(contracts.Guardian{ID: id, Name: id, PublicKey: s.PublicKey(), Channels: []contracts.Channel{ch}}); err != nil {
			return nil, err
		}
	}
	schemes := crypto.NewSchemeRegistry()
	schemes.Register(contracts.SchemeEd25519, crypto.NewEd25519Verifier(dir))

	dispOpts := []notify.DispatcherOption{notify.WithRegistry(responses), notify.WithLogger(logger)}
	if policy.Notify.RatePerSecond > 0 {
		dispOpts = append(dispOpts, notify.WithRateLimit(policy.Notify.RatePerSecond, max(policy.Notify.Burst, 1)))
	}
	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(logger), dispOpts...)

	colOpts := []signature.Option{signature.WithLogger(logger)}
	if policy.RosterBuffer != nil {
		colOpts = append(colOpts, signature.WithRosterBuffer(*policy.RosterBuffer))
	}
	n.collector = signature.NewCollector(dir, schemes, dispatcher, colOpts...)

	monOpts := []monitor.Option{monitor.WithLogger(logger)}
	if policy.Monitor.PollInterval > 0 {
		monOpts = append(monOpts, monitor.WithPollInterval(policy.Monitor.PollInterval))
	}
	if policy.Monitor.ResponseThreshold > 0 {
		monOpts = append(monOpts, monitor.WithThreshold(policy.Monitor.ResponseThreshold))
	}
	supervisor := monitor.NewSupervisor(responses, monitor.NewNotifyEscalator(dispatcher, contracts.ChannelSMS), monOpts...)

	engineCfg := policy.EngineConfig(cfg.TimelockUnit)
	ops := manual.New(engineCfg.Policy.LargePayment, engineCfg.Policy.MaxSignatures)
	if policy.TemplatesFile != "" {
		f, err := os.Open(policy.TemplatesFile)
		if err != nil {
			return nil, fmt.Errorf("templates: %w", err)
		}
		err = ops.LoadTemplates(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}

	n.sandbox = settlement.NewSandboxBackend()
	n.sandbox.ConfirmAfter = opts.ConfirmAfter
	backend := settlement.NewGuardedBackend(n.sandbox, settlement.NewCircuitBreaker("sandbox", 3, 30*time.Second))

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	n.issuer = attestation.NewIssuer("guardian-node.drill", priv)

	n.engine, err = execution.NewEngine(engineCfg, execution.Deps{
		Collector:   n.collector,
		Backend:     backend,
		Funds:       n.sandbox,
		Guardians:   dir,
		Dispatcher:  dispatcher,
		Monitor:     supervisor,
		Audit:       audit.FanOut{n.audit, audit.NewLogSink(logger)},
		Manual:      ops,
		Assessor:    fixedAssessor{opts: opts},
		Attestation: attestation.NewJWTVerifier("guardian-node.drill", pub),
		Obs:         n.obs,
		Snapshots:   snapshots,
	}, execution.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Close releases external connections.
func (n *node) Close(ctx context.Context) {
	var errs []error
	if n.store != nil {
		errs = append(errs, n.store.Close())
	}
	if n.redis != nil {
		errs = append(errs, n.redis.Close())
	}
	if n.obs != nil {
		errs = append(errs, n.obs.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		n.logger.Warn("shutdown", "error", err)
	}
}

// fixedAssessor returns the assessment given on the command line.
type fixedAssessor struct {
	opts drillOptions
}

func (f fixedAssessor) Assess(_ context.Context, em contracts.Emergency) (contracts.Assessment, error) {
	return contracts.Assessment{
		Severity:               contracts.Severity(f.opts.Severity),
		UrgencyScore:           f.opts.Urgency,
		Confidence:             f.opts.Confidence,
		RecommendedAmount:      em.RequestedAmount,
		InstitutionCredibility: 0.9,
		Reasoning:              "drill assessment",
	}, nil
}
