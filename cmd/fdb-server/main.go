// Command fdb-server runs the line-protocol TCP front end over the fdb
// storage engine. Flags are defined with urfave/cli/v2 (grounded in
// core-chain's and buchgr-bazel-remote's CLI stacks); an optional TOML
// config file is loaded with github.com/naoina/toml and flags override it,
// on top of fdb_server.py's FDBConfig defaults. Environment variables are
// not read.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/fastdb-project/fdb/engine"
	"github.com/fastdb-project/fdb/internal/protocol"
)

type fileConfig struct {
	DataDir        string  `toml:"data_dir"`
	CacheSize      int     `toml:"cache_size"`
	FlushInterval  float64 `toml:"flush_interval"`
	MaxWorkers     int     `toml:"max_workers"`
	FileExtension  string  `toml:"file_extension"`
	Host           string  `toml:"host"`
	Port           int     `toml:"port"`
	MaxConnections int     `toml:"max_connections"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	f, err := os.Open(path)
	if err != nil {
		return fc, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return fc, fmt.Errorf("decode config: %w", err)
	}
	return fc, nil
}

func buildConfig(c *cli.Context) (engine.Config, error) {
	cfg := engine.DefaultConfig()

	if path := c.String("config"); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return cfg, err
		}
		if fc.DataDir != "" {
			cfg.DataDir = fc.DataDir
		}
		if fc.CacheSize > 0 {
			cfg.CacheSize = fc.CacheSize
		}
		if fc.FlushInterval > 0 {
			cfg.FlushInterval = time.Duration(fc.FlushInterval * float64(time.Second))
		}
		if fc.MaxWorkers > 0 {
			cfg.MaxWorkers = fc.MaxWorkers
		}
		if fc.FileExtension != "" {
			cfg.FileExtension = fc.FileExtension
		}
		if fc.Host != "" {
			cfg.Host = fc.Host
		}
		if fc.Port > 0 {
			cfg.Port = fc.Port
		}
		if fc.MaxConnections > 0 {
			cfg.MaxConnections = fc.MaxConnections
		}
	}

	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("cache-size") {
		cfg.CacheSize = c.Int("cache-size")
	}
	if c.IsSet("flush-interval") {
		cfg.FlushInterval = c.Duration("flush-interval")
	}
	if c.IsSet("max-workers") {
		cfg.MaxWorkers = c.Int("max-workers")
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("max-connections") {
		cfg.MaxConnections = c.Int("max-connections")
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	logger, err := engine.NewProductionLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Infow("fdb server started", "addr", addr, "data_dir", cfg.DataDir, "cache_size", cfg.CacheSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conns := make(chan struct{}, cfg.MaxConnections)
	go acceptLoop(ctx, ln, eng, logger, conns)

	<-ctx.Done()
	logger.Infow("shutdown signal received")
	ln.Close()
	if err := eng.Stop(); err != nil {
		logger.Errorw("engine stop reported an error", "error", err)
	}
	logger.Infow("fdb server stopped")
	return nil
}

// acceptLoop bounds concurrently-served connections to cap (MaxConnections):
// a connection slot is reserved before Accept returns control to handleConn
// and released when the connection closes, so a saturated server blocks new
// accepts rather than spawning unbounded goroutines.
func acceptLoop(ctx context.Context, ln net.Listener, eng *engine.Engine, logger engine.Logger, slots chan struct{}) {
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			<-slots
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Errorw("accept failed", "error", err)
			continue
		}
		go func() {
			defer func() { <-slots }()
			handleConn(conn, eng, logger)
		}()
	}
}

func handleConn(conn net.Conn, eng *engine.Engine, logger engine.Logger) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()
	logger.Infow("client connected", "addr", addr)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		logger.Debugw("command received", "addr", addr, "line", line)

		resp := protocol.HandleLine(eng, line)
		if _, err := conn.Write([]byte(resp + "\n")); err != nil {
			break
		}
	}
	logger.Infow("client disconnected", "addr", addr)
}

func main() {
	app := &cli.App{
		Name:  "fdb-server",
		Usage: "run the fdb key-value store's TCP line-protocol server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
			&cli.StringFlag{Name: "data-dir", Usage: "directory for on-disk records"},
			&cli.IntFlag{Name: "cache-size", Usage: "max in-memory entries before eviction"},
			&cli.DurationFlag{Name: "flush-interval", Usage: "how often dirty entries are flushed"},
			&cli.IntFlag{Name: "max-workers", Usage: "bounded parallelism for flush writes"},
			&cli.StringFlag{Name: "host", Usage: "listen host"},
			&cli.IntFlag{Name: "port", Usage: "listen port"},
			&cli.IntFlag{Name: "max-connections", Usage: "max concurrently served connections"},
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fdb-server:", err)
		os.Exit(1)
	}
}
