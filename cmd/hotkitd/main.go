// hotkitd 秒杀订单落库守护进程。
//
// 用法:
//
//	hotkitd [--config 配置文件]
//
// 启动时加载准入脚本并确保消费组存在，然后以消费组成员身份
// 消费订单流、事务性落库，并周期性重放未确认的消息。
// 准入（Purchase）通常由业务进程内嵌 xseckill.Service 完成，
// hotkitd 负责管道的消费端。
//
// 退出码:
//
//	0: 正常退出（收到 SIGINT/SIGTERM 后优雅停止）
//	1: 启动失败或运行中出现不可恢复错误
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omeyang/hotkit/pkg/business/xseckill"
	"github.com/omeyang/hotkit/pkg/config/xconf"
	"github.com/omeyang/hotkit/pkg/distributed/xdlock"
	"github.com/omeyang/hotkit/pkg/mq/xstream"
	"github.com/omeyang/hotkit/pkg/storage/xorder"
)

// defaultConfigPath 默认配置文件路径。
const defaultConfigPath = "hotkitd.yaml"

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

// appConfig hotkitd 的配置结构。
type appConfig struct {
	Redis struct {
		Addr string `koanf:"addr"`
		DB   int    `koanf:"db"`
	} `koanf:"redis"`
	Postgres struct {
		DSN string `koanf:"dsn"`
	} `koanf:"postgres"`
	Log struct {
		// File 日志文件路径。为空时输出到 stdout，不做轮转。
		File       string `koanf:"file"`
		MaxSizeMB  int    `koanf:"max_size_mb"`
		MaxBackups int    `koanf:"max_backups"`
		MaxAgeDays int    `koanf:"max_age_days"`
		Compress   bool   `koanf:"compress"`
	} `koanf:"log"`
	Seckill struct {
		Stream           string        `koanf:"stream"`
		Group            string        `koanf:"group"`
		Consumer         string        `koanf:"consumer"`
		DeadLetter       string        `koanf:"dead_letter"`
		Block            time.Duration `koanf:"block"`
		RecoveryInterval time.Duration `koanf:"recovery_interval"`
	} `koanf:"seckill"`
}

// applyDefaults 填充未配置的字段。
func (c *appConfig) applyDefaults() {
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Seckill.Stream == "" {
		c.Seckill.Stream = "stream.orders"
	}
	if c.Seckill.Group == "" {
		c.Seckill.Group = "g1"
	}
	if c.Seckill.Consumer == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "c1"
		}
		c.Seckill.Consumer = host
	}
}

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "hotkitd",
		Usage:   "秒杀订单落库守护进程",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（yaml 或 json）",
				Value:   defaultConfigPath,
			},
		},
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，
		// 由 run() 统一处理退出码映射。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDaemon(ctx, cmd.String("config"))
		},
	}
}

func run() int {
	app := createApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

func runDaemon(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}

	store, err := xorder.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	stream, err := xstream.New(client, cfg.Seckill.Stream, cfg.Seckill.Group)
	if err != nil {
		return err
	}

	// 加载准入脚本、创建消费组：配置问题在启动时暴露
	if err := xseckill.EnsureAdmission(ctx, client, stream); err != nil {
		return err
	}

	locks, err := xdlock.NewRedsyncFactory(client)
	if err != nil {
		return err
	}
	defer locks.Close()

	workerOpts := []xseckill.WorkerOption{xseckill.WithWorkerLogger(logger)}
	if cfg.Seckill.DeadLetter != "" {
		workerOpts = append(workerOpts, xseckill.WithDeadLetter(cfg.Seckill.DeadLetter))
	}
	if cfg.Seckill.Block > 0 {
		workerOpts = append(workerOpts, xseckill.WithBlock(cfg.Seckill.Block))
	}
	if cfg.Seckill.RecoveryInterval > 0 {
		workerOpts = append(workerOpts, xseckill.WithRecoveryInterval(cfg.Seckill.RecoveryInterval))
	}

	worker, err := xseckill.NewWorker(stream, store, locks, cfg.Seckill.Consumer, workerOpts...)
	if err != nil {
		return err
	}

	logger.Info("hotkitd started",
		"version", Version,
		"stream", cfg.Seckill.Stream,
		"group", cfg.Seckill.Group,
		"consumer", cfg.Seckill.Consumer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return worker.RunRecovery(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("hotkitd stopped")
	return nil
}

// newLogger 构建 JSON 格式的进程 Logger。
// 配置了日志文件时经 lumberjack 轮转写入，否则输出到 stdout。
func newLogger(cfg *appConfig) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	closeLog := func() {}

	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		out = rotator
		closeLog = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, nil)), closeLog
}

// loadConfig 读取并解析配置文件。
func loadConfig(path string) (*appConfig, error) {
	cfg, err := xconf.New(path)
	if err != nil {
		return nil, err
	}

	var app appConfig
	if err := cfg.Unmarshal("", &app); err != nil {
		return nil, err
	}
	app.applyDefaults()
	return &app, nil
}
