// =============================
// AnimaWatch 主入口
// =============================
// 命令行入口，驱动页面视觉产物的 AI 分析
//
// 使用方法:
//
//	animawatch analyze --image shot.png --prompt "find visual glitches"
//	animawatch analyze --video capture.webm --structured
//	animawatch analyze --image shot.png --consensus
//	animawatch analyze --image shot.png --grounded
//	animawatch analyze --image shot.png --structured --save-baseline homepage
//	animawatch devices --category mobile
//	animawatch version
//
// =============================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/baseline"
	"github.com/BaSui01/animawatch/config"
	"github.com/BaSui01/animawatch/consensus"
	"github.com/BaSui01/animawatch/devices"
	"github.com/BaSui01/animawatch/grounding"
	icache "github.com/BaSui01/animawatch/internal/cache"
	"github.com/BaSui01/animawatch/internal/metrics"
	"github.com/BaSui01/animawatch/providers/factory"
	"github.com/BaSui01/animawatch/providers/gemini"
	"github.com/BaSui01/animawatch/providers/ollama"
	"github.com/BaSui01/animawatch/types"
	"github.com/BaSui01/animawatch/vision"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(os.Args[2:])
	case "devices":
		runDevices(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// analyze 命令
func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	imagePath := fs.String("image", "", "Path to image to analyze")
	videoPath := fs.String("video", "", "Path to video to analyze")
	prompt := fs.String("prompt", "Analyze this page capture for animation glitches, visual artifacts, layout problems and accessibility issues.", "Analysis prompt")
	structured := fs.Bool("structured", false, "Parse the response into structured findings")
	useConsensus := fs.Bool("consensus", false, "Cross-check findings with both gemini and ollama")
	grounded := fs.Bool("grounded", false, "Verify findings with a skeptical second analysis pass")
	baselineDir := fs.String("baseline-dir", "baselines", "Directory for stored baselines")
	saveBaseline := fs.String("save-baseline", "", "Save the structured result as a named baseline")
	compareBaseline := fs.String("compare-baseline", "", "Compare the structured result against a baseline ID")
	metricsAddr := fs.String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9091)")
	fs.Parse(args)

	if (*imagePath == "") == (*videoPath == "") {
		fmt.Fprintln(os.Stderr, "Exactly one of --image or --video is required")
		os.Exit(1)
	}
	if (*saveBaseline != "" || *compareBaseline != "") && !*structured {
		fmt.Fprintln(os.Stderr, "--save-baseline and --compare-baseline require --structured")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting AnimaWatch",
		zap.String("version", Version),
		zap.String("provider", cfg.Vision.Provider),
	)

	collector := metrics.NewCollector("animawatch", logger)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	opts := cfg.VisionOptions()
	opts.Metrics = collector

	if cfg.Redis.Enabled {
		remote, rerr := icache.NewManager(icache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			DefaultTTL: cfg.Redis.TTL,
			PoolSize:   cfg.Redis.PoolSize,
		}, logger)
		if rerr != nil {
			logger.Warn("Redis cache not available, continuing without it", zap.Error(rerr))
		} else {
			defer remote.Close()
			opts.Remote = remote
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *useConsensus {
		if *videoPath != "" {
			fmt.Fprintln(os.Stderr, "--consensus only supports --image")
			os.Exit(1)
		}
		runConsensusAnalyze(ctx, cfg, opts, *imagePath, *prompt, logger)
		return
	}

	provider, err := factory.New(cfg.FactoryConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create vision provider", zap.Error(err))
	}
	client := vision.NewClient(provider, opts, logger)

	if *grounded {
		if *imagePath == "" {
			fmt.Fprintln(os.Stderr, "--grounded only supports --image")
			os.Exit(1)
		}
		findings, err := grounding.New(client, logger).AnalyzeImage(ctx, *imagePath, *prompt)
		exitOnError(logger, err)
		printJSON(logger, findings)
		return
	}

	switch {
	case *structured && *imagePath != "":
		result, err := client.AnalyzeImageStructured(ctx, *imagePath, *prompt)
		exitOnError(logger, err)
		handleBaseline(logger, *baselineDir, *saveBaseline, *compareBaseline, *imagePath, result)
		fmt.Println(result.ToMarkdown())
	case *structured:
		result, err := client.AnalyzeVideoStructured(ctx, *videoPath, *prompt)
		exitOnError(logger, err)
		handleBaseline(logger, *baselineDir, *saveBaseline, *compareBaseline, *videoPath, result)
		fmt.Println(result.ToMarkdown())
	case *imagePath != "":
		text, err := client.AnalyzeImage(ctx, *imagePath, *prompt)
		exitOnError(logger, err)
		fmt.Println(text)
	default:
		text, err := client.AnalyzeVideo(ctx, *videoPath, *prompt)
		exitOnError(logger, err)
		fmt.Println(text)
	}
}

// runConsensusAnalyze 同时用 Gemini 与 Ollama 分析并合并发现
func runConsensusAnalyze(ctx context.Context, cfg *config.Config, opts vision.Options, imagePath, prompt string, logger *zap.Logger) {
	fc := cfg.FactoryConfig()
	if fc.Gemini.APIKey == "" {
		logger.Fatal("consensus mode requires ANIMAWATCH_VISION_GEMINI_API_KEY")
	}

	// 两个客户端各自独立的熔断器与缓存；熔断器名称区分后端，
	// 避免 circuit_breaker_state 指标把两个后端混在同一条时间线上
	primaryOpts := cfg.VisionOptions()
	primaryOpts.Metrics = opts.Metrics
	primaryOpts.Remote = opts.Remote
	primaryOpts.Breaker.Name = "vision_api_gemini"
	primary := vision.NewClient(gemini.New(fc.Gemini, logger), primaryOpts, logger)

	secondaryOpts := cfg.VisionOptions()
	secondaryOpts.Metrics = opts.Metrics
	secondaryOpts.Breaker.Name = "vision_api_ollama"
	secondary := vision.NewClient(ollama.New(fc.Ollama, logger), secondaryOpts, logger)

	result, err := consensus.New(primary, secondary, logger).AnalyzeImage(ctx, imagePath, prompt)
	exitOnError(logger, err)
	printJSON(logger, result)
}

// handleBaseline 按需把结构化结果与既存基线比较，或保存为新基线
func handleBaseline(logger *zap.Logger, dir, saveName, compareID, artifactPath string, result *types.AnalysisResult) {
	if saveName == "" && compareID == "" {
		return
	}

	store, err := baseline.NewStore(dir, logger)
	exitOnError(logger, err)

	if compareID != "" {
		base, err := store.Load(compareID)
		exitOnError(logger, err)
		printJSON(logger, baseline.Compare(result, base, baseline.DefaultScoreThreshold))
	}
	if saveName != "" {
		saved, err := store.Save(saveName, result.URL, result, artifactPath)
		exitOnError(logger, err)
		logger.Info("Baseline saved", zap.String("id", saved.ID), zap.String("name", saveName))
	}
}

func printJSON(logger *zap.Logger, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	exitOnError(logger, err)
	fmt.Println(string(out))
}

// devices 命令
func runDevices(args []string) {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	category := fs.String("category", "", "Filter by category: mobile, tablet, desktop")
	fs.Parse(args)

	for _, p := range devices.List(devices.Category(*category)) {
		fmt.Printf("%-16s %s  %dx%d @%gx  %s\n",
			p.Name, p.Category, p.Width, p.Height, p.DeviceScaleFactor, touchLabel(p))
	}
}

func touchLabel(p devices.Profile) string {
	if p.HasTouch {
		return "touch"
	}
	return "no-touch"
}

// serveMetrics 暴露 Prometheus 指标端点
func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics server stopped", zap.Error(err))
	}
}

func exitOnError(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("Analysis failed", zap.Error(err))
	}
}

func printVersion() {
	fmt.Printf("AnimaWatch %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AnimaWatch - AI-powered web animation analysis

Usage:
  animawatch <command> [options]

Commands:
  analyze   Analyze a page capture with a vision model
  devices   List device emulation profiles
  version   Show version information
  help      Show this help message

Options for 'analyze':
  --config <path>          Path to configuration file (YAML)
  --image <path>           Image to analyze
  --video <path>           Video to analyze
  --prompt <text>          Analysis prompt
  --structured             Parse the response into structured findings
  --consensus              Cross-check findings with both gemini and ollama
  --grounded               Verify findings with a skeptical second analysis pass
  --baseline-dir <dir>     Directory for stored baselines (default: baselines)
  --save-baseline <name>   Save the structured result as a named baseline
  --compare-baseline <id>  Compare the structured result against a baseline
  --metrics-addr <addr>    Expose Prometheus metrics (e.g. :9091)

Examples:
  animawatch analyze --image shot.png --prompt "find visual glitches"
  animawatch analyze --video capture.webm --structured
  animawatch analyze --image shot.png --consensus
  animawatch analyze --image shot.png --grounded
  animawatch analyze --image shot.png --structured --save-baseline homepage
  animawatch devices --category mobile`)
}
