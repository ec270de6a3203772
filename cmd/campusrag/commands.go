package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/BaSui01/campusrag/agent"
	"github.com/BaSui01/campusrag/config"
	"github.com/BaSui01/campusrag/history"
	"github.com/BaSui01/campusrag/internal/database"
	"github.com/BaSui01/campusrag/rag"
	"github.com/BaSui01/campusrag/rag/loader"
)

// =============================================================================
// 📥 index 命令
// =============================================================================

func runIndex(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	path := fs.String("path", "", "File or directory to index")
	docType := fs.String("type", "", "Override document_type")
	replace := fs.Bool("replace", false, "Delete previously indexed chunks of the same files first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("--path is required")
	}

	app, logger, err := cliApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer app.Close()
	defer func() { _ = logger.Sync() }()

	if app.cfg.VectorStore.Backend == "memory" {
		logger.Warn("memory vector store is not persisted; indexed documents are lost when the command exits")
	}
	return indexPath(ctx, app, *path, *docType, *replace, w)
}

// indexPath 加载文件（目录递归）并写入知识库
func indexPath(ctx context.Context, app *App, path, docType string, replace bool, w io.Writer) error {
	if err := app.knowledge.InitCollection(ctx); err != nil {
		return fmt.Errorf("init collection: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	registry := loader.NewRegistry()
	var docs []loader.Document
	if info.IsDir() {
		docs, err = registry.LoadDir(ctx, path)
	} else {
		docs, err = registry.Load(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	reqs := loader.IndexRequests(docs)
	if docType != "" {
		for i := range reqs {
			reqs[i].DocumentType = docType
		}
	}

	if replace {
		seen := make(map[string]bool)
		for _, r := range reqs {
			if seen[r.SourceID] {
				continue
			}
			seen[r.SourceID] = true
			if _, err := app.knowledge.DeleteBySource(ctx, r.SourceID); err != nil {
				return fmt.Errorf("delete previous chunks of %s: %w", r.SourceID, err)
			}
		}
	}

	ids, err := app.knowledge.IndexBatch(ctx, reqs)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %d documents from %d files\n", green("Indexed"), len(ids), countSources(reqs))
	return nil
}

func countSources(reqs []rag.IndexRequest) int {
	set := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		set[r.SourceID] = struct{}{}
	}
	return len(set)
}

// =============================================================================
// 💬 ask 命令
// =============================================================================

func runAsk(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	method := fs.String("method", "", "standard, agent or hybrid")
	topK := fs.Int("top-k", 0, "Number of documents to retrieve")
	user := fs.String("user", "cli", "User id")
	stream := fs.Bool("stream", false, "Print the answer as it is generated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("a question is required")
	}

	app, logger, err := cliApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer app.Close()
	defer func() { _ = logger.Sync() }()

	if err := app.knowledge.InitCollection(ctx); err != nil {
		return fmt.Errorf("init collection: %w", err)
	}

	req := rag.QueryRequest{
		Query:  query,
		UserID: *user,
		TopK:   *topK,
		Method: rag.Method(*method),
	}
	if *stream {
		return streamAnswer(ctx, app.pipeline, req, w)
	}
	res, err := app.pipeline.ProcessQuery(ctx, req)
	if err != nil {
		return err
	}
	printResult(w, res)
	return nil
}

func streamAnswer(ctx context.Context, p *rag.Pipeline, req rag.QueryRequest, w io.Writer) error {
	events, err := p.StreamQuery(ctx, req)
	if err != nil {
		return err
	}
	for ev := range events {
		switch ev.Type {
		case rag.StreamEventDelta:
			fmt.Fprint(w, ev.Delta)
		case rag.StreamEventError:
			fmt.Fprintln(w)
			if ev.Err != nil {
				return ev.Err
			}
			return errors.New(ev.Error)
		case rag.StreamEventDone:
			fmt.Fprintln(w)
			if ev.Answer != nil {
				printSources(w, ev.Answer)
			}
		}
	}
	return ctx.Err()
}

// printResult 输出答案、来源与上下文不足提示
func printResult(w io.Writer, res *rag.Result) {
	bold := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	agentResp, _ := res.AgentResponse.(*agent.Response)
	header := fmt.Sprintf("Answer (%s)", res.Method)
	if agentResp != nil {
		header = fmt.Sprintf("Answer (%s, %s agent)", res.Method, agentResp.AgentType)
	}
	fmt.Fprintln(w, bold(header))
	fmt.Fprintln(w, res.Answer.Answer)
	fmt.Fprintln(w)
	printSources(w, res.Answer)
	if agentResp != nil && len(agentResp.NextActions) > 0 {
		fmt.Fprintf(w, "%s %s\n", cyan("Next:"), strings.Join(agentResp.NextActions, ", "))
	}
	fmt.Fprintf(w, "%s confidence %.2f, %s\n", cyan("·"), res.Answer.Confidence, res.TotalTime.Round(time.Millisecond))
}

func printSources(w io.Writer, ans *rag.GeneratedAnswer) {
	yellow := color.New(color.FgYellow).SprintFunc()
	if ans.InsufficientContext {
		fmt.Fprintln(w, yellow("The knowledge base did not contain enough information to answer fully."))
	}
	if len(ans.Sources) == 0 {
		return
	}

	fmt.Fprintln(w, color.New(color.Bold).Sprint("Sources:"))
	for i, s := range ans.Sources {
		label := s.ID
		if title, ok := s.Metadata["title"].(string); ok && title != "" {
			label = title
		}
		fmt.Fprintf(w, "  [%d] %s (score %.3f)\n", i+1, label, s.Score)
	}
}

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	status := fs.Bool("status", false, "Only report whether the history table exists")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cliLogConfig(cfg.Log))
	defer func() { _ = logger.Sync() }()
	return migrateHistory(ctx, cfg.Database, *status, logger, w)
}

// migrateHistory 对话历史只有一张表，直接使用 GORM AutoMigrate
func migrateHistory(ctx context.Context, cfg config.DatabaseConfig, statusOnly bool, logger *zap.Logger, w io.Writer) error {
	pm, err := database.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = pm.Close() }()

	store := history.NewStore(pm.DB(), logger)
	if statusOnly {
		state := "missing"
		if store.HasSchema(ctx) {
			state = "present"
		}
		fmt.Fprintf(w, "%s (%s): conversation table %s\n", cfg.Driver, cfg.Name, state)
		return nil
	}

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s conversation history schema on %s\n", color.GreenString("Migrated"), cfg.Driver)
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// cliApp 命令行模式下组装 App，日志写到 stderr 以免与输出混在一起
func cliApp(ctx context.Context, configPath string) (*App, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := initLogger(cliLogConfig(cfg.Log))
	app, err := NewApp(ctx, cfg, nil, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return app, logger, nil
}

func cliLogConfig(lc config.LogConfig) config.LogConfig {
	lc.OutputPaths = []string{"stderr"}
	if lc.Level == "" || lc.Level == "info" {
		lc.Level = "warn"
	}
	return lc
}
