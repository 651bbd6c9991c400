package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/drupal-ce/drupal-ce/internal/config"
	"github.com/drupal-ce/drupal-ce/internal/drupalce"
	"github.com/drupal-ce/drupal-ce/internal/logging"
	"github.com/drupal-ce/drupal-ce/internal/proxy"
	"github.com/drupal-ce/drupal-ce/internal/server"
	"github.com/drupal-ce/drupal-ce/internal/server/routes"
	"github.com/drupal-ce/drupal-ce/internal/state"
	"github.com/drupal-ce/drupal-ce/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	ep, err := cfg.Endpoints()
	if err != nil {
		fmt.Fprintf(stdErr, "解析端点失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["base_url"] = ep.BaseURL
		fields["menu_base_url"] = ep.MenuBaseURL
		fields["proxy_routes"] = ep.ExposeAPIRouteRules
		fields["session_backend"] = cfg.Global.SessionBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewRouteRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建代理路由失败: %v\n", err)
		return 1
	}

	// 启动顺序：配置 → 会话存储 → CMS 客户端 → Fiber server，
	// 所有请求共享同一个存储与上游连接池。
	store, closeStore, err := server.NewSessionStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化会话存储失败: %v\n", err)
		return 1
	}
	defer closeStore()

	client, err := server.NewCMSClient(cfg, server.NewUpstreamClient(cfg), logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 CMS 客户端失败: %v\n", err)
		return 1
	}

	proxyHandler := proxy.NewHandler(server.NewProxyClient(cfg), logger)
	forwarder := proxy.NewForwarder(proxyHandler, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["base_url"] = ep.BaseURL
	fields["server_base_url"] = ep.ServerBaseURL()
	fields["proxy_routes"] = len(registry.List())
	fields["listen_port"] = cfg.Global.ListenPort
	fields["session_backend"] = cfg.Global.SessionBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	app, err := buildApp(cfg, registry, forwarder, client, store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 服务失败: %v\n", err)
		return 1
	}
	if err := serve(app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("drupal-ce", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 DRUPAL_CE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("DRUPAL_CE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func buildApp(
	cfg *config.Config,
	registry *server.RouteRegistry,
	proxyHandler server.ProxyHandler,
	client *drupalce.Client,
	store state.Store,
	logger *logrus.Logger,
) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterContentRoutes(app, routes.ContentOptions{
		Client: client,
		Store:  store,
		Logger: logger,
	})
	routes.RegisterDiagnosticsRoutes(app, routes.DiagnosticsOptions{
		Registry:  registry,
		Endpoints: client.Endpoints(),
		Store:     store,
	})
	return app, nil
}

// serve 监听端口直到收到 SIGINT/SIGTERM，然后优雅关闭。
func serve(app *fiber.App, port int, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，停止服务")
	if err := app.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
