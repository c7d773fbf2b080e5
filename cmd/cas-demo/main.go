package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/threefoldtech/s3-cas/internal/caslog"
	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/kvstore/boltstore"
	"github.com/threefoldtech/s3-cas/internal/kvstore/memstore"
	"github.com/threefoldtech/s3-cas/internal/metrics"
	"github.com/threefoldtech/s3-cas/internal/tenant"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath  string
	dataDir     string
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cas-demo",
	Short:   "cas-demo drives the content-addressable object store engine from the command line",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults built in)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the config's meta_root/block_root with <data-dir>/meta and <data-dir>/blocks")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(createBucketCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createMultipartCmd)
	rootCmd.AddCommand(uploadPartCmd)
	rootCmd.AddCommand(completeMultipartCmd)
}

// env bundles the resources every subcommand needs, torn down on exit.
type env struct {
	registry *tenant.Registry
	closers  []func() error
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

// setup loads configuration, wires logging and metrics, opens the shared
// block pool, and starts an optional metrics endpoint, matching the ambient
// stack described for this engine: zerolog logging, a config.Config loaded
// from YAML, and an injected metrics.Sink rather than a package-global
// Prometheus registry.
func setup(cmd *cobra.Command) (*env, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.MetaRoot = filepath.Join(dataDir, "meta")
		cfg.BlockRoot = filepath.Join(dataDir, "blocks")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := caslog.Init(caslog.Config{Level: caslog.InfoLevel})

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry)

	e := &env{}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		e.closers = append(e.closers, func() error { return srv.Close() })
	}

	var blockKV kvstore.Store
	var err error
	switch cfg.StorageEngine {
	case config.EngineBestEffort:
		blockKV = memstore.New()
	default:
		dbDir := filepath.Join(cfg.MetaRoot, "db")
		if cfg.MultiTenant {
			dbDir = filepath.Join(cfg.MetaRoot, "blocks", "db")
		}
		if err = os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir %s: %w", dbDir, err)
		}
		blockKV, err = boltstore.Open(filepath.Join(dbDir, "meta.db"), cfg.Durability)
	}
	if err != nil {
		return nil, fmt.Errorf("open block metadata store: %w", err)
	}
	e.closers = append(e.closers, blockKV.Close)

	shared, err := tenant.NewShared(blockKV, cfg.BlockRoot, cfg, sink)
	if err != nil {
		return nil, err
	}

	opener := func(tenantID string) (kvstore.Store, error) {
		if !cfg.MultiTenant {
			return blockKV, nil
		}
		if cfg.StorageEngine == config.EngineBestEffort {
			return memstore.New(), nil
		}
		dir := filepath.Join(cfg.MetaRoot, "user_"+tenantID, "db")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return boltstore.Open(filepath.Join(dir, "meta.db"), cfg.Durability)
	}

	e.registry = tenant.NewRegistry(shared, cfg, sink, logger, opener)
	return e, nil
}

func storeFor(cmd *cobra.Command) (*env, *tenant.Registry, error) {
	e, err := setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	return e, e.registry, nil
}

var createBucketCmd = &cobra.Command{
	Use:   "create-bucket <bucket>",
	Args:  cobra.ExactArgs(1),
	Short: "Create a bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, reg, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := reg.Get(tenant.DefaultTenantID)
		if err != nil {
			return err
		}
		return st.CreateBucket(args[0])
	},
}

var putCmd = &cobra.Command{
	Use:   "put <bucket> <key> <file>",
	Args:  cobra.ExactArgs(3),
	Short: "Upload a file as an object",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, reg, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := reg.Get(tenant.DefaultTenantID)
		if err != nil {
			return err
		}
		f, err := os.Open(args[2])
		if err != nil {
			return err
		}
		defer f.Close()
		rec, err := st.PutObject(context.Background(), args[0], args[1], f)
		if err != nil {
			return err
		}
		fmt.Printf("etag=%s size=%d\n", rec.ETag(), rec.Size)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <bucket> <key>",
	Args:  cobra.ExactArgs(2),
	Short: "Download an object to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, reg, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := reg.Get(tenant.DefaultTenantID)
		if err != nil {
			return err
		}
		r, _, err := st.GetObject(args[0], args[1], allRange())
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = copyAll(os.Stdout, r)
		return err
	},
}

var createMultipartCmd = &cobra.Command{
	Use:   "create-multipart <bucket> <key>",
	Args:  cobra.ExactArgs(2),
	Short: "Start a multipart upload, printing its upload ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, reg, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := reg.Get(tenant.DefaultTenantID)
		if err != nil {
			return err
		}
		id, err := st.CreateMultipartUpload(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(id.String())
		return nil
	},
}

var uploadPartCmd = &cobra.Command{
	Use:   "upload-part <bucket> <key> <upload-id> <part-number> <file>",
	Args:  cobra.ExactArgs(5),
	Short: "Upload one part of a multipart upload",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, reg, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := reg.Get(tenant.DefaultTenantID)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[2])
		if err != nil {
			return err
		}
		var partNumber uint32
		if _, err := fmt.Sscanf(args[3], "%d", &partNumber); err != nil {
			return err
		}
		f, err := os.Open(args[4])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		rec, err := st.UploadPart(context.Background(), args[0], args[1], id, partNumber, f, info.Size())
		if err != nil {
			return err
		}
		fmt.Printf("size=%d\n", rec.Size)
		return nil
	},
}

var completeMultipartCmd = &cobra.Command{
	Use:   "complete-multipart <bucket> <key> <upload-id> <part-numbers...>",
	Args:  cobra.MinimumNArgs(4),
	Short: "Complete a multipart upload from an ordered list of part numbers",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, reg, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := reg.Get(tenant.DefaultTenantID)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[2])
		if err != nil {
			return err
		}
		parts := make([]uint32, 0, len(args)-3)
		for _, a := range args[3:] {
			var n uint32
			if _, err := fmt.Sscanf(a, "%d", &n); err != nil {
				return err
			}
			parts = append(parts, n)
		}
		rec, err := st.CompleteMultipartUpload(args[0], args[1], id, parts)
		if err != nil {
			return err
		}
		fmt.Printf("etag=%s size=%d\n", rec.ETag(), rec.Size)
		return nil
	},
}
