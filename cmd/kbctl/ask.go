package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"kbqa-go/internal/app"
	"kbqa-go/internal/model"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/vector"
)

const cliUser = "kbctl"

func newAskCmd(opts *options) *cobra.Command {
	var (
		kbNames []string
		topK    int
		sources bool
	)
	cmd := &cobra.Command{
		Use:   "ask --kb NAME QUESTION",
		Short: "基于知识库回答问题，回答逐段写到标准输出",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			kbIDs := make([]uint, 0, len(kbNames))
			for _, name := range kbNames {
				kb, err := a.Knowledge.FindBaseByName(ctx, name)
				if err != nil {
					return fmt.Errorf("知识库 %q: %w", name, err)
				}
				kbIDs = append(kbIDs, kb.ID)
			}

			user, err := cliAccount(cmd, a)
			if err != nil {
				return err
			}
			session, err := a.Sessions.Create(ctx, user.ID, "kbctl")
			if err != nil {
				return err
			}

			req := service.ChatRequest{
				SessionID:      session.ID,
				KBIDs:          kbIDs,
				Question:       strings.Join(args, " "),
				IncludeSources: sources,
			}
			if topK > 0 {
				req.TopK = &topK
			}
			return a.Chat.Stream(ctx, user, req, &stdoutWriter{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()})
		},
	}
	cmd.Flags().StringSliceVar(&kbNames, "kb", nil, "知识库名称，可重复指定")
	cmd.Flags().IntVar(&topK, "top-k", 0, "检索的分块数量，0 表示使用配置值")
	cmd.Flags().BoolVar(&sources, "sources", false, "在标准错误输出中打印命中的分块")
	_ = cmd.MarkFlagRequired("kb")
	return cmd
}

// cliAccount 返回命令行专用账号，不存在时注册。
func cliAccount(cmd *cobra.Command, a *app.App) (*model.User, error) {
	ctx := cmd.Context()
	user, err := a.Users.GetProfile(ctx, cliUser)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return a.Users.Register(ctx, cliUser, cliUser)
}

type stdoutWriter struct {
	out    io.Writer
	errOut io.Writer
}

func (w *stdoutWriter) WriteFragment(fragment string) error {
	_, err := io.WriteString(w.out, fragment)
	return err
}

func (w *stdoutWriter) WriteSources(hits []vector.Hit) error {
	for _, h := range hits {
		fmt.Fprintf(w.errOut, "[source] kb=%d doc=%d chunk=%d score=%.4f\n", h.KBID, h.DocID, h.ChunkIndex, h.Score)
	}
	return nil
}

func (w *stdoutWriter) Done() error {
	_, err := io.WriteString(w.out, "\n")
	return err
}
