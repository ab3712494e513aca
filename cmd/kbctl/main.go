// Command kbctl 在进程内运行完整的导入与问答流程，默认使用 testing 模式。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kbqa-go/internal/app"
	"kbqa-go/internal/config"
	"kbqa-go/pkg/log"
)

type options struct {
	configPath string
	testing    bool
	sqlitePath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "kbctl",
		Short:        "知识库问答命令行工具",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径，为空时只使用默认值与环境变量")
	root.PersistentFlags().BoolVar(&opts.testing, "testing", true, "使用内存向量库、SQLite 与离线模型应答")
	root.PersistentFlags().StringVar(&opts.sqlitePath, "db", "./data/kbctl.db", "testing 模式下的 SQLite 文件")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "日志级别")

	root.AddCommand(newIngestCmd(opts), newAskCmd(opts))
	return root
}

// open 加载配置并装配应用。testing 模式下内存向量库从 SQLite 中的分块重建。
func (o *options) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.testing {
		cfg.Testing = true
		cfg.Database.SQLite.Path = o.sqlitePath
		cfg.ApplyTestingOverrides()
	}
	log.Init(o.logLevel, "console", "")

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Vector.Backend == "memory" {
		if _, err := a.Reindex(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func newIngestCmd(opts *options) *cobra.Command {
	var kbName string
	cmd := &cobra.Command{
		Use:   "ingest --kb NAME FILE...",
		Short: "把本地文件导入知识库",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.IngestFiles(cmd.Context(), kbName, args)
			for _, d := range docs {
				line := fmt.Sprintf("%s\t%s\t%d chunks", d.FileName, d.Status, d.ChunkCount)
				if d.ErrorMsg != "" {
					line += "\t" + d.ErrorMsg
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&kbName, "kb", "", "知识库名称，不存在时自动创建")
	_ = cmd.MarkFlagRequired("kb")
	return cmd
}
