package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"OpenNFT-Agent/internal/agent"
	"OpenNFT-Agent/internal/observability/metrics"
	"OpenNFT-Agent/internal/task"
	"OpenNFT-Agent/pkg/logger"
)

var jsonFlag = &cli.BoolFlag{Name: "json", Usage: "以 JSON 输出结果"}

func agentCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "serve",
			Usage:  "启动任务处理器与指标端点",
			Action: runServe,
		},
		{
			Name:  "chat",
			Usage: "在终端中与 Agent 对话",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "user", Usage: "用户标识", Value: "cli"},
				jsonFlag,
			},
			Action: runChat,
		},
		{
			Name:      "submit",
			Usage:     "提交一条消息到任务队列",
			ArgsUsage: "<消息>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "任务 ID，重复提交时保持幂等"},
				&cli.StringFlag{Name: "user", Usage: "用户标识", Value: "cli"},
				&cli.StringFlag{Name: "action", Usage: "直接指定操作名称，跳过意图识别"},
				&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "操作参数 key=value，可重复"},
				&cli.BoolFlag{Name: "wait", Usage: "在进程内处理并等待任务完成"},
				&cli.DurationFlag{Name: "timeout", Usage: "等待任务完成的最长时间", Value: 5 * time.Minute},
			},
			Action: runSubmit,
		},
		{
			Name:  "task",
			Usage: "查询任务状态",
			Subcommands: []*cli.Command{
				{
					Name:      "get",
					Usage:     "查看单个任务",
					ArgsUsage: "<任务 ID>",
					Action:    runTaskGet,
				},
				{
					Name:  "list",
					Usage: "列出最近的任务",
					Flags: []cli.Flag{
						&cli.IntFlag{Name: "limit", Value: 20},
						&cli.IntFlag{Name: "offset"},
						&cli.StringSliceFlag{Name: "status", Usage: "pending/running/succeeded/failed"},
						&cli.StringFlag{Name: "user", Usage: "只显示该用户的任务"},
						&cli.StringFlag{Name: "action", Usage: "只显示该操作的任务，例如 BUY_NFT"},
						&cli.BoolFlag{Name: "failed-reply", Usage: "只显示回复为业务失败的任务，设为 false 时排除"},
						&cli.DurationFlag{Name: "since", Usage: "只显示最近这段时间内更新的任务，例如 24h"},
						&cli.BoolFlag{Name: "oldest", Usage: "按更新时间升序"},
						&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "按任务 ID、用户、消息、操作、错误、回复或交易哈希模糊匹配"},
					},
					Action: runTaskList,
				},
				{
					Name:  "stats",
					Usage: "任务状态统计",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "user", Usage: "只统计该用户的任务"},
						&cli.StringFlag{Name: "action", Usage: "只统计该操作的任务"},
						&cli.DurationFlag{Name: "since", Usage: "只统计最近这段时间内更新的任务"},
					},
					Action: runTaskStats,
				},
			},
		},
		{
			Name:  "history",
			Usage: "查看最近的操作流水",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 20},
			},
			Action: runHistory,
		},
	}
}

func runServe(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	store, queue, err := rt.openTasks(c.Context)
	if err != nil {
		return err
	}
	service := task.NewService(store, queue, rt.cfg.Storage.TaskStore.Retries)
	defer service.Close()

	alerter, err := rt.alerter()
	if err != nil {
		return err
	}
	processor := task.NewProcessor(rt.agent, store, queue, queue,
		task.WithWorkerCount(rt.cfg.TaskQueue.Worker),
		task.WithAlertDispatcher(alerter),
		task.WithProcessorMetrics(rt.metrics),
		task.WithStaleTaskRecovery(rt.cfg.TaskQueue.StaleAfter()),
	)

	if rt.cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(c.Context, rt.cfg.Metrics.Address, rt.metrics); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
		logger.L().Info("指标端点已启动", slog.String("address", rt.cfg.Metrics.Address))
	}

	logger.L().Info("任务处理器已启动",
		slog.String("queue", rt.cfg.TaskQueue.Driver),
		slog.String("store", rt.cfg.Storage.TaskStore.Driver),
		slog.Int("workers", rt.cfg.TaskQueue.Worker),
	)
	if err := processor.Start(c.Context); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("任务处理器已停止")
	return nil
}

func runChat(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := c.App.Writer
	fmt.Fprintf(out, "钱包 %s 已连接，输入 help 查看可用操作，exit 退出。\n", rt.market.Address().Hex())
	return chatLoop(c.Context, c.App.Reader, out, func(ctx context.Context, text string) (*agent.Reply, error) {
		return rt.agent.Handle(ctx, agent.Message{UserID: c.String("user"), Text: text})
	}, c.Bool("json"))
}

// chatLoop 逐行读取输入并打印回复，直到 EOF、exit 或 ctx 结束。
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, handle func(context.Context, string) (*agent.Reply, error), asJSON bool) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reply, err := handle(ctx, line)
		if reply != nil {
			if perr := printReply(out, reply, asJSON); perr != nil {
				return perr
			}
		}
		if err != nil {
			logger.L().Error("处理消息失败", slog.Any("error", err))
			if reply == nil {
				fmt.Fprintf(out, "处理失败: %v\n", err)
			}
		}
	}
}

func runSubmit(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	store, queue, err := rt.openTasks(c.Context)
	if err != nil {
		return err
	}
	service := task.NewService(store, queue, rt.cfg.Storage.TaskStore.Retries)
	defer service.Close()

	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	submitted, err := service.Submit(c.Context, task.SubmitRequest{
		ID:      c.String("id"),
		UserID:  c.String("user"),
		Message: strings.Join(c.Args().Slice(), " "),
		Action:  c.String("action"),
		Params:  params,
	})
	if err != nil {
		return err
	}
	if !c.Bool("wait") {
		return printJSON(c.App.Writer, submitted)
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	processor := task.NewProcessor(rt.agent, store, queue, queue, task.WithProcessorMetrics(rt.metrics))
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()
	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 500*time.Millisecond)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, done)
}

func openTaskService(c *cli.Context) (*task.Service, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg}
	store, queue, err := rt.openTasks(c.Context)
	if err != nil {
		return nil, err
	}
	return task.NewService(store, queue, cfg.Storage.TaskStore.Retries), nil
}

func runTaskGet(c *cli.Context) error {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return errors.New("请提供任务 ID")
	}
	service, err := openTaskService(c)
	if err != nil {
		return err
	}
	defer service.Close()
	t, err := service.Get(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, t)
}

func runTaskList(c *cli.Context) error {
	service, err := openTaskService(c)
	if err != nil {
		return err
	}
	defer service.Close()

	opts := append(taskFilters(c),
		task.WithLimit(c.Int("limit")),
		task.WithOffset(c.Int("offset")),
		task.WithQuery(c.String("query")),
	)
	if statuses := c.StringSlice("status"); len(statuses) > 0 {
		list := make([]task.Status, 0, len(statuses))
		for _, s := range statuses {
			list = append(list, task.Status(strings.ToLower(strings.TrimSpace(s))))
		}
		opts = append(opts, task.WithStatuses(list...))
	}
	if c.IsSet("failed-reply") {
		opts = append(opts, task.WithFailedReply(c.Bool("failed-reply")))
	}
	if c.Bool("oldest") {
		opts = append(opts, task.WithOldestFirst())
	}
	tasks, err := service.List(c.Context, opts...)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, tasks)
}

func runTaskStats(c *cli.Context) error {
	service, err := openTaskService(c)
	if err != nil {
		return err
	}
	defer service.Close()
	stats, err := service.Stats(c.Context, taskFilters(c)...)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, stats)
}

// taskFilters 读取 list 与 stats 共用的过滤参数。
func taskFilters(c *cli.Context) []task.ListOption {
	var opts []task.ListOption
	if user := c.String("user"); user != "" {
		opts = append(opts, task.WithUserID(user))
	}
	if action := c.String("action"); action != "" {
		opts = append(opts, task.WithAction(action))
	}
	if since := c.Duration("since"); since > 0 {
		opts = append(opts, task.WithUpdatedSince(time.Now().Add(-since)))
	}
	return opts
}

func runHistory(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()
	records, err := rt.agent.ListHistory(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, records)
}

// parseParams 解析 key=value 形式的参数。
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("参数格式应为 key=value: %q", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func printReply(w io.Writer, reply *agent.Reply, asJSON bool) error {
	if asJSON {
		return printJSON(w, reply)
	}
	fmt.Fprintln(w, reply.Text)
	if reply.TxHash != "" {
		fmt.Fprintf(w, "交易哈希: %s\n", reply.TxHash)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
