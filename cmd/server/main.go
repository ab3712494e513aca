// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kbqa-go/internal/app"
	"kbqa-go/internal/config"
	"kbqa-go/pkg/log"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 装配数据库、向量库、对象存储、消息队列与各层服务
	application, err := app.New(ctx, &cfg)
	if err != nil {
		log.Fatal("应用初始化失败", err)
	}
	defer application.Close()

	// 内存向量库不落盘，启动时从已保存的分块重建
	if cfg.Vector.Backend == "memory" {
		if _, err := application.Reindex(ctx); err != nil {
			log.Error("重建向量索引失败", err)
		}
	}

	// 4. 启动后台 Kafka 消费者
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := application.RunWorkers(ctx); err != nil {
			log.Error("Kafka 消费者异常退出", err)
		}
	}()

	// 5. 导入 seed 目录（已导入则跳过）
	go application.SeedDirectory(ctx)

	// 6. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: application.Router(),
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
	}
	<-workersDone
	log.Info("服务已优雅关闭")
}
