package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pobradovic08/as-infer/internal/config"
	"github.com/pobradovic08/as-infer/internal/db"
	"github.com/pobradovic08/as-infer/internal/gao"
	"github.com/pobradovic08/as-infer/internal/geoip"
	"github.com/pobradovic08/as-infer/internal/graph"
	"github.com/pobradovic08/as-infer/internal/httpapi"
	"github.com/pobradovic08/as-infer/internal/ixp"
	"github.com/pobradovic08/as-infer/internal/metrics"
	"github.com/pobradovic08/as-infer/internal/pathvector"
	"github.com/pobradovic08/as-infer/internal/pubsub"
	"github.com/pobradovic08/as-infer/internal/queue"
	"github.com/pobradovic08/as-infer/internal/relationship"
	"github.com/pobradovic08/as-infer/internal/ribload"
	"github.com/pobradovic08/as-infer/internal/service"
	"github.com/pobradovic08/as-infer/internal/waitregistry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "infer", "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "load":
		runLoad()
	case "clean":
		runClean()
	case "list":
		runList()
	case "extra":
		runExtra()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: as-infer <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  infer                    Start the inference service")
	fmt.Println("  migrate                  Run database migrations")
	fmt.Println("  load                     Ingest topology/relationship/IXP data")
	fmt.Println("  clean                    Delete stored graph data")
	fmt.Println("  list                     List miscellaneous stored information")
	fmt.Println("  extra gao-relation       Dump Gao-inferred relationships to JSON")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

// flagValue scans args for "--name value", returning "" if absent.
func flagValue(args []string, name string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func flagPresent(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func connectPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) *pgxpool.Pool {
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	return pool
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting as-infer",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.String("inference_listen", cfg.Inference.Listen),
		zap.Strings("tags", cfg.Queue.Tags),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPool(ctx, cfg, logger)
	defer pool.Close()

	store, err := graph.NewStore(pool, cfg.Data.CompressPaths, logger.Named("graph"))
	if err != nil {
		logger.Fatal("failed to build graph store", zap.Error(err))
	}

	tlsCfg, err := cfg.Kafka.BuildTLSConfig()
	if err != nil {
		logger.Fatal("failed to build TLS config", zap.Error(err))
	}
	saslMech := cfg.Kafka.BuildSASLMechanism()

	if len(cfg.Queue.Tags) == 0 {
		logger.Fatal("queue.tags must name at least one RIB tag to serve")
	}

	if err := enforceQueueSeedPolicy(ctx, cfg, pool, logger); err != nil {
		logger.Fatal("queue seed policy failed", zap.Error(err))
	}

	var handlers []*service.TagHandler
	for _, tag := range cfg.Queue.Tags {
		ribPaths, err := store.LoadRIBPaths(ctx, tag)
		if err != nil {
			logger.Fatal("failed to load RIB paths", zap.String("tag", tag), zap.Error(err))
		}
		rawPaths := make([][]int, len(ribPaths))
		for i, p := range ribPaths {
			rawPaths[i] = p.Path
		}
		sureIdx := graph.NewSurePathIndex(rawPaths)
		builder := pathvector.NewBuilder(store, sureIdx)

		consumer, err := queue.NewConsumer(
			cfg.Kafka.Brokers, cfg.Queue.GroupID, queue.TopicFor(cfg.Queue.ProcQueueTopicPrefix, tag),
			cfg.Kafka.ClientID+"-queue-"+tag, tlsCfg, saslMech, logger.Named("queue.consumer."+tag),
		)
		if err != nil {
			logger.Fatal("failed to create queue consumer", zap.String("tag", tag), zap.Error(err))
		}

		handlers = append(handlers, &service.TagHandler{
			Tag:      tag,
			Consumer: consumer,
			Builder:  builder,
			Workers:  cfg.Queue.WorkersPerTag,
		})

		logger.Info("tag handler ready", zap.String("tag", tag), zap.Int("sure_paths", len(ribPaths)))
	}

	producer, err := queue.NewProducer(cfg.Kafka.Brokers, cfg.Queue.ProcQueueTopicPrefix, pool, tlsCfg, saslMech, logger.Named("queue.producer"))
	if err != nil {
		logger.Fatal("failed to create queue producer", zap.Error(err))
	}
	defer producer.Close()

	statusPub, err := pubsub.NewPublisher(cfg.Kafka.Brokers, cfg.Queue.StatusTopic, tlsCfg, saslMech)
	if err != nil {
		logger.Fatal("failed to create status publisher", zap.Error(err))
	}
	defer statusPub.Close()

	statusSub, err := pubsub.NewSubscriber(cfg.Kafka.Brokers, cfg.Queue.GroupID+"-status", cfg.Queue.StatusTopic, cfg.Kafka.ClientID+"-status", tlsCfg, saslMech, logger.Named("status.sub"))
	if err != nil {
		logger.Fatal("failed to create status subscriber", zap.Error(err))
	}
	defer statusSub.Close()

	var geoResolver geoip.Resolver
	if cfg.Data.GeoIPFile != "" {
		r, err := geoip.LoadFile(cfg.Data.GeoIPFile)
		if err != nil {
			logger.Fatal("failed to load GeoIP file", zap.Error(err))
		}
		geoResolver = r
		logger.Info("GeoIP resolver loaded", zap.String("file", cfg.Data.GeoIPFile))
	}

	var ixpData *ixp.Data
	if cfg.Data.IXPFile != "" || cfg.Data.MetaIXPFile != "" {
		ixpData = ixp.New()
		if cfg.Data.IXPFile != "" {
			if err := ixpData.LoadIXPFile(cfg.Data.IXPFile); err != nil {
				logger.Fatal("failed to load IXP file", zap.Error(err))
			}
		}
		if cfg.Data.MetaIXPFile != "" {
			if err := ixpData.LoadMetaIXPFile(cfg.Data.MetaIXPFile); err != nil {
				logger.Fatal("failed to load MetaIXP file", zap.Error(err))
			}
		}
		persisted, err := store.LoadMetaIXP(ctx)
		if err != nil {
			logger.Fatal("failed to load persisted MetaIXP groupings", zap.Error(err))
		}
		ixpData.SeedMetaIXP(persisted)
		logger.Info("IXP data loaded")
	}

	svc := service.New(service.Params{
		ListenAddr:         cfg.Inference.Listen,
		ReadTimeoutSeconds: cfg.Inference.ReadTimeoutSeconds,
		WaitTimeoutSeconds: cfg.Inference.WaitTimeoutSeconds,
		Store:              store,
		Geo:                geoResolver,
		IXPData:            ixpData,
		Registry:           waitregistry.New(),
		Producer:           producer,
		StatusPublisher:    statusPub,
		StatusSubscriber:   statusSub,
		Handlers:           handlers,
		Logger:             logger.Named("service"),
	})

	svcErrCh := make(chan error, 1)
	go func() { svcErrCh <- svc.Run(ctx) }()

	httpServer := httpapi.NewServer(cfg.Service.HTTPListen, pool, service.MultiTagStatus{Handlers: handlers}, statusSub, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("as-infer serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-svcErrCh:
		if err != nil {
			logger.Error("inference service exited", zap.Error(err))
		}
	}

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	svc.Close()
	cancel()

	select {
	case <-svcErrCh:
		logger.Info("inference service stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("as-infer stopped")
}

// enforceQueueSeedPolicy applies cfg.Inference.QueueSeedPolicy at startup:
// refuse aborts if any served tag's processing queue still carries
// unresolved dedup entries from a prior run, force leaves them in place,
// reset drops them so every tag starts from an empty queue.
func enforceQueueSeedPolicy(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) error {
	policy := cfg.Inference.QueueSeedPolicy
	if policy == "force" {
		logger.Info("queue seed policy: force, leaving any existing queue entries in place")
		return nil
	}

	for _, tag := range cfg.Queue.Tags {
		var count int
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM queue_dedup WHERE tag = $1`, tag).Scan(&count); err != nil {
			return fmt.Errorf("checking queue_dedup for tag %s: %w", tag, err)
		}
		if count == 0 {
			continue
		}
		switch policy {
		case "refuse":
			return fmt.Errorf("tag %s has %d pending queue entries from a prior run (queue_seed_policy=refuse)", tag, count)
		case "reset":
			if _, err := pool.Exec(ctx, `DELETE FROM queue_dedup WHERE tag = $1`, tag); err != nil {
				return fmt.Errorf("resetting queue_dedup for tag %s: %w", tag, err)
			}
			logger.Warn("queue seed policy: reset, dropped pending entries", zap.String("tag", tag), zap.Int("dropped", count))
		}
	}
	return nil
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running migrations", zap.String("dsn", redactDSN(cfg.Postgres.DSN)))

	ctx := context.Background()
	pool := connectPool(ctx, cfg, logger)
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

// runLoad ingests one data source into the graph store, selected by
// --kind: rib (OpenBMP-framed RIB dump, requires --tag), caida, whois,
// gao-json (AS-relationship sources), ixp, or meta-ixp.
func runLoad() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	kind := flagValue(os.Args[2:], "--kind")
	file := flagValue(os.Args[2:], "--file")
	tag := flagValue(os.Args[2:], "--tag")
	if kind == "" || file == "" {
		fmt.Fprintln(os.Stderr, "load requires --kind and --file")
		os.Exit(1)
	}

	ctx := context.Background()
	pool := connectPool(ctx, cfg, logger)
	defer pool.Close()

	store, err := graph.NewStore(pool, cfg.Data.CompressPaths, logger.Named("graph"))
	if err != nil {
		logger.Fatal("failed to build graph store", zap.Error(err))
	}

	data, err := os.ReadFile(file)
	if err != nil {
		logger.Fatal("failed to read input file", zap.Error(err))
	}

	switch kind {
	case "rib":
		if tag == "" {
			fmt.Fprintln(os.Stderr, "load --kind rib requires --tag")
			os.Exit(1)
		}
		if err := store.UpsertRIBTag(ctx, tag); err != nil {
			logger.Fatal("failed to upsert RIB tag", zap.Error(err))
		}
		stats, err := ribload.LoadDump(ctx, store, tag, data, 64*1024*1024, logger.Named("ribload"))
		if err != nil {
			logger.Fatal("RIB dump load failed", zap.Error(err))
		}
		logger.Info("RIB dump loaded",
			zap.Int("frames", stats.Frames), zap.Int("updates", stats.Updates),
			zap.Int("paths", stats.Paths), zap.Int("ases", stats.ASes),
			zap.Int("links", stats.Links), zap.Int("errors", stats.Errors))

	case "caida", "whois", "gao-json":
		resolver := relationship.NewResolver()
		f, err := os.Open(file)
		if err != nil {
			logger.Fatal("failed to open input file", zap.Error(err))
		}
		defer f.Close()

		switch kind {
		case "caida":
			err = resolver.LoadCAIDA(f)
		case "whois":
			err = resolver.LoadWHOISSiblings(f)
		case "gao-json":
			err = resolver.LoadGaoJSON(f)
		}
		if err != nil {
			logger.Fatal("failed to parse relationship source", zap.Error(err))
		}

		for _, rel := range resolver.Relationships() {
			if err := store.UpsertRelationship(ctx, rel); err != nil {
				logger.Fatal("failed to persist relationship", zap.Error(err))
			}
		}

		if conflictLog := cfg.Data.ConflictLogFile; conflictLog != "" && len(resolver.Conflicts) > 0 {
			if err := writeConflictLog(conflictLog, resolver.Conflicts); err != nil {
				logger.Error("failed to write conflict log", zap.Error(err))
			}
		}
		logger.Info("relationships loaded", zap.String("source", kind), zap.Int("conflicts", len(resolver.Conflicts)))

	case "ixp":
		d := ixp.New()
		if err := d.LoadIXPFile(file); err != nil {
			logger.Fatal("failed to parse IXP file", zap.Error(err))
		}
		for _, c := range d.AllCrossings() {
			if err := store.UpsertIXPCrossing(ctx, c); err != nil {
				logger.Fatal("failed to persist IXP crossing", zap.Error(err))
			}
		}
		logger.Info("IXP crossings loaded", zap.String("file", file), zap.Int("crossings", len(d.AllCrossings())))

	case "meta-ixp":
		d := ixp.New()
		if err := d.LoadMetaIXPFile(file); err != nil {
			logger.Fatal("failed to parse MetaIXP file", zap.Error(err))
		}
		for ixpID, metaID := range d.MetaIXPGroupings() {
			if err := store.UpsertMetaIXP(ctx, ixpID, metaID); err != nil {
				logger.Fatal("failed to persist MetaIXP grouping", zap.Error(err))
			}
		}
		logger.Info("MetaIXP groupings loaded", zap.String("file", file), zap.Int("groupings", len(d.MetaIXPGroupings())))

	default:
		fmt.Fprintf(os.Stderr, "unknown --kind %q\n", kind)
		os.Exit(1)
	}
}

func writeConflictLog(path string, conflicts []relationship.Conflict) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(conflicts)
}

func runClean() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	ctx := context.Background()
	pool := connectPool(ctx, cfg, logger)
	defer pool.Close()

	store, err := graph.NewStore(pool, cfg.Data.CompressPaths, logger.Named("graph"))
	if err != nil {
		logger.Fatal("failed to build graph store", zap.Error(err))
	}

	args := os.Args[2:]
	did := false

	if flagPresent(args, "--base-links") {
		if err := store.DeleteASes(ctx); err != nil {
			logger.Fatal("failed to clean ases", zap.Error(err))
		}
		logger.Info("cleaned base AS/link data")
		did = true
	}

	if flagPresent(args, "--as-rel") {
		if err := store.DeleteRelationships(ctx); err != nil {
			logger.Fatal("failed to clean relationships", zap.Error(err))
		}
		logger.Info("cleaned AS relationship data")
		did = true
	}

	if tags := flagValue(args, "--rib-links"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if err := store.DeleteTagData(ctx, tag); err != nil {
				logger.Fatal("failed to clean tag data", zap.String("tag", tag), zap.Error(err))
			}
			logger.Info("cleaned link/path data for RIB tag", zap.String("tag", tag))
		}
		did = true
	}

	if !did {
		fmt.Fprintln(os.Stderr, "clean: no cleanup requested. Use --base-links, --as-rel, and/or --rib-links <tag1,tag2,...>")
		os.Exit(1)
	}
}

func runList() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	ctx := context.Background()
	pool := connectPool(ctx, cfg, logger)
	defer pool.Close()

	store, err := graph.NewStore(pool, cfg.Data.CompressPaths, logger.Named("graph"))
	if err != nil {
		logger.Fatal("failed to build graph store", zap.Error(err))
	}

	args := os.Args[2:]
	had := false

	if flagPresent(args, "--tags") {
		tags, err := store.ListRIBTags(ctx)
		if err != nil {
			logger.Fatal("failed to list RIB tags", zap.Error(err))
		}
		fmt.Println("Tags:")
		for _, tag := range tags {
			fmt.Printf(" - %s\n", tag)
		}
		had = true
	}

	if !had {
		fmt.Fprintln(os.Stderr, "No list requests provided. Use --tags.")
		os.Exit(1)
	}
}

// runExtra dispatches `extra <subcommand>` — currently just gao-relation.
func runExtra() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "extra requires a subcommand: gao-relation")
		os.Exit(1)
	}
	switch os.Args[2] {
	case "gao-relation":
		runExtraGaoRelation()
	default:
		fmt.Fprintf(os.Stderr, "unknown extra subcommand: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// runExtraGaoRelation runs GaoInferencer over one tag's stored RIB paths
// and writes the resulting relationship set to a JSON file in the same
// {as1,as2,relation} shape RelationshipResolver.LoadGaoJSON consumes, so a
// prior run's output can seed the next.
func runExtraGaoRelation() {
	cfg, logger := loadConfig(os.Args[3:])
	defer logger.Sync()

	tag := flagValue(os.Args[3:], "--tag")
	out := flagValue(os.Args[3:], "--out")
	if tag == "" || out == "" {
		fmt.Fprintln(os.Stderr, "extra gao-relation requires --tag and --out")
		os.Exit(1)
	}

	ctx := context.Background()
	pool := connectPool(ctx, cfg, logger)
	defer pool.Close()

	store, err := graph.NewStore(pool, cfg.Data.CompressPaths, logger.Named("graph"))
	if err != nil {
		logger.Fatal("failed to build graph store", zap.Error(err))
	}

	ribPaths, err := store.LoadRIBPaths(ctx, tag)
	if err != nil {
		logger.Fatal("failed to load RIB paths", zap.Error(err))
	}
	paths := make([][]int, len(ribPaths))
	for i, p := range ribPaths {
		paths[i] = p.Path
	}

	classifier := gao.DefaultClassifier()
	rels, stats, err := classifier.Infer(paths)
	if err != nil {
		logger.Fatal("gao inference failed", zap.Error(err))
	}

	type entry struct {
		AS1      int    `json:"as1"`
		AS2      int    `json:"as2"`
		Relation string `json:"relation"`
	}
	entries := make([]entry, len(rels))
	for i, r := range rels {
		entries[i] = entry{AS1: r.AS1, AS2: r.AS2, Relation: string(r.Relation)}
	}

	f, err := os.Create(out)
	if err != nil {
		logger.Fatal("failed to create output file", zap.Error(err))
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(entries); err != nil {
		logger.Fatal("failed to write output", zap.Error(err))
	}

	logger.Info("gao relation inference complete",
		zap.String("tag", tag), zap.Int("edges", stats.Edges),
		zap.Int("sibling", stats.Sibling), zap.Int("p2c", stats.P2C), zap.Int("p2p", stats.P2P))
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
