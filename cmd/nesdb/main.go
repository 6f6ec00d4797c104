// Command nesdb is a local operator CLI over a storage.Storage data
// directory: write a document, read one back, tail an index, or serve the
// HTTP/gRPC surfaces. It mirrors the teacher's cmd/flo/main.go shape (a
// cobra root, signal-aware Run) but talks to storage.Storage in-process
// rather than over a remote transport.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/nesdb/nesdb/consumer"
	"github.com/nesdb/nesdb/internal/config"
	"github.com/nesdb/nesdb/internal/consumerstore"
	"github.com/nesdb/nesdb/internal/metrics"
	"github.com/nesdb/nesdb/pkg/discovery"
	"github.com/nesdb/nesdb/pkg/nlog"
	grpcserver "github.com/nesdb/nesdb/server/grpc"
	httpserver "github.com/nesdb/nesdb/server/http"
	"github.com/nesdb/nesdb/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	logger := nlog.New(
		nlog.WithLevel(parseLevel(os.Getenv("NESDB_LOG_LEVEL"))),
		nlog.WithFormatter(&nlog.TextFormatter{}),
		nlog.WithOutput(nlog.NewConsoleOutput()),
	)

	root := &cobra.Command{
		Use:   "nesdb",
		Short: "nesdb operates a local storage.Storage data directory",
	}
	root.PersistentFlags().String("data-dir", "", "storage directory (defaults to the OS-specific application data directory)")

	root.AddCommand(
		newWriteCmd(logger),
		newReadCmd(logger),
		newTailCmd(logger),
		newServeCmd(logger),
		newDiscoverCmd(logger),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseLevel(v string) nlog.Level {
	switch v {
	case "debug":
		return nlog.DebugLevel
	case "warn":
		return nlog.WarnLevel
	case "error":
		return nlog.ErrorLevel
	default:
		return nlog.InfoLevel
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	config.FromEnv(&cfg)
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.StorageDirectory = dir
	}
	return cfg, nil
}

func openStorage(cfg config.Config) (*storage.Storage, error) {
	opts := storage.DefaultOptions()
	opts.PartitionName = cfg.PartitionName
	opts.PartitionOptions.BufferSize = cfg.WriteBufferSize
	opts.PartitionOptions.DirtyReads = cfg.DirtyReads
	opts.PartitionOptions.FlushDelay = cfg.FlushDelay
	opts.IndexBufferSize = cfg.WriteBufferSize
	opts.IndexFlushDelay = cfg.FlushDelay
	return storage.Open(cfg.StorageDirectory, opts)
}

func newWriteCmd(logger nlog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write [payload]",
		Short: "Write a document payload to the partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStorage(cfg)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer s.Close()

			result, err := s.Write([]byte(args[0]), nil)
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
			logger.Info("wrote document", nlog.Int64("position", result.Position), nlog.Int("size", result.Size))
			fmt.Printf("position=%d size=%d\n", result.Position, result.Size)
			return nil
		},
	}
	return cmd
}

func newReadCmd(logger nlog.Logger) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "read [position]",
		Short: "Read a document back by byte position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse position: %w", err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStorage(cfg)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer s.Close()

			doc, ok := s.ReadFrom(position, size)
			if !ok {
				return fmt.Errorf("no document at position %d", position)
			}
			fmt.Println(string(doc))
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "expected size; 0 means no validation")
	return cmd
}

func newTailCmd(logger nlog.Logger) *cobra.Command {
	var indexName, consumerName string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail an index, printing new documents as they are written",
		RunE: func(cmd *cobra.Command, args []string) error {
			if indexName == "" {
				return fmt.Errorf("--index is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStorage(cfg)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer s.Close()

			idx, err := s.EnsureIndex(indexName, nil, cfg.Metadata)
			if err != nil {
				return fmt.Errorf("ensure index: %w", err)
			}
			source, ok := s.ConsumerSource(indexName)
			if !ok {
				return fmt.Errorf("index %q not available", indexName)
			}

			store, err := consumerstore.Open(filepath.Join(cfg.StorageDirectory, ".consumers"))
			if err != nil {
				return fmt.Errorf("open consumer state: %w", err)
			}
			defer store.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := consumer.New(indexName, consumerName, idx, source, store)
			dataCh, err := c.Subscribe()
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			for {
				select {
				case <-ctx.Done():
					return c.Stop()
				case doc, ok := <-dataCh:
					if !ok {
						return nil
					}
					fmt.Println(string(doc))
				}
			}
		},
	}
	cmd.Flags().StringVar(&indexName, "index", "", "index name to tail")
	cmd.Flags().StringVar(&consumerName, "consumer", "cli", "durable consumer name")
	return cmd
}

func newDiscoverCmd(logger nlog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the indexes found under a storage directory without opening them for writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			found, err := discovery.Scan(cfg.StorageDirectory)
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			for _, f := range found {
				fmt.Printf("%s\t%s\n", f.Name, f.Path)
			}
			return nil
		},
	}
	return cmd
}

func newServeCmd(logger nlog.Logger) *cobra.Command {
	var httpAddr, grpcAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and gRPC surfaces over a storage directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			hooks := metrics.New(registry, "nesdb")

			opts := storage.DefaultOptions()
			opts.PartitionName = cfg.PartitionName
			opts.PartitionOptions.BufferSize = cfg.WriteBufferSize
			opts.PartitionOptions.DirtyReads = cfg.DirtyReads
			opts.PartitionOptions.FlushDelay = cfg.FlushDelay
			opts.PartitionOptions.Metrics = hooks.Partition
			opts.IndexBufferSize = cfg.WriteBufferSize
			opts.IndexFlushDelay = cfg.FlushDelay
			opts.IndexMetrics = hooks.Index

			s, err := storage.Open(cfg.StorageDirectory, opts)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer s.Close()

			state, err := consumerstore.Open(filepath.Join(cfg.StorageDirectory, ".consumers"))
			if err != nil {
				return fmt.Errorf("open consumer state: %w", err)
			}
			defer state.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			httpSrv := httpserver.New(s, state, logger)
			grpcSrv := grpcserver.New(s)

			errCh := make(chan error, 2)
			go func() { errCh <- httpSrv.ListenAndServe(ctx, httpAddr) }()
			go func() { errCh <- grpcSrv.ListenAndServe(ctx, grpcAddr) }()

			logger.Info("nesdb serving", nlog.Str("http", httpAddr), nlog.Str("grpc", grpcAddr))

			select {
			case <-ctx.Done():
				httpSrv.Close()
				grpcSrv.Close()
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc", ":50051", "gRPC listen address")
	return cmd
}
