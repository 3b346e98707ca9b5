package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/config"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/metrics"
	"github.com/LubyRuffy/freeloader/openaihttp"
	"github.com/LubyRuffy/freeloader/supervisor"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	host      string
	port      int
	noCookies bool
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OpenAI-compatible HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global, func(cfg *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("host") {
					cfg.Host = opts.host
				}
				if flags.Changed("port") {
					cfg.Port = opts.port
				}
				if opts.noCookies {
					cfg.Cookies.Enabled = false
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", config.DefaultHost, "listen host")
	cmd.Flags().IntVarP(&opts.port, "port", "p", config.DefaultPort, "listen port")
	cmd.Flags().BoolVar(&opts.noCookies, "no-cookies", false, "do not attach stored cookies to backend requests")
	return cmd
}

// server 是一次 serve 运行所需的全部组件。
type server struct {
	cfg     *config.Config
	adapter backend.Adapter
	store   *cookiestore.Store
	metrics *metrics.Collector
	monitor *supervisor.Monitor
	handler http.Handler
}

func buildServer(cfg *config.Config) (*server, error) {
	kind, err := cfg.BackendKind()
	if err != nil {
		return nil, err
	}
	adapter, err := backend.New(backend.Config{
		Kind:             kind,
		BaseURL:          cfg.BackendURL,
		FirstByteTimeout: cfg.FirstByteTimeout,
	})
	if err != nil {
		return nil, err
	}

	s := &server{cfg: cfg, adapter: adapter}

	var cookies openaihttp.CookieSource
	if cfg.Cookies.Enabled {
		store, err := cookiestore.Open(cfg.Cookies.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open cookie store: %w", err)
		}
		s.store = store
		cookies = store
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	s.monitor, err = supervisor.NewMonitor(supervisor.MonitorConfig{
		Backend:  adapter.Name(),
		BaseURL:  cfg.BackendURL,
		Schedule: cfg.Startup.ProbeSchedule,
		Timeout:  cfg.Startup.ProbeTimeout,
		Metrics:  s.metrics,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	err = openaihttp.RegisterGinRoutes(r, openaihttp.Config{
		Adapter:           adapter,
		BackendURL:        cfg.BackendURL,
		Cookies:           cookies,
		CookieDomain:      cfg.Cookies.Domain,
		SystemFingerprint: cfg.SystemFingerprint,
		Metrics:           s.metrics,
		MetricsPath:       cfg.Metrics.Path,
		Health:            s.monitor,
	})
	if err != nil {
		return nil, fmt.Errorf("register routes failed: %w", err)
	}
	s.handler = r
	return s, nil
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	s, err := buildServer(cfg)
	if err != nil {
		return err
	}

	if cfg.Startup.Probe {
		// 探活失败只告警，服务照常启动。
		if err := s.monitor.Check(ctx); err != nil {
			printWarn(cmd.ErrOrStderr(), "backend %s at %s is not reachable yet; requests will fail until it is up", s.adapter.Name(), cfg.BackendURL)
		}
	}
	if err := s.monitor.Start(ctx); err != nil {
		return err
	}
	defer s.monitor.Stop()

	if s.store != nil && cfg.Cookies.Watch {
		if err := s.watchStore(ctx); err != nil {
			return err
		}
	}

	ln, err := cfg.StartupPolicy().ListenWithRetry(ctx, cfg.Addr())
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	out := cmd.OutOrStdout()
	local := addrForLocalClient(ln.Addr().String())
	fmt.Fprintln(out, headerStyle.Render("freeloader")+" "+dimStyle.Render(version))
	printOK(out, "listening on http://%s/v1 (backend %s at %s)", local, s.adapter.Name(), cfg.BackendURL)
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("try: curl http://%s/v1/models", local)))
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("OpenAI SDK base_url: http://%s/v1", local)))
	if s.store == nil {
		printWarn(out, "cookies disabled, backend requests are sent without a session")
	} else if domain, err := cookieDomain(cfg); err == nil && len(s.store.Lookup(domain)) == 0 {
		printWarn(out, "no cookies stored for %s, run: freeloader cookies import --domain %s", domain, domain)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *server) watchStore(ctx context.Context) error {
	// 目录不存在时 fsnotify 无法监听，先创建出来。
	if err := os.MkdirAll(filepath.Dir(s.store.Path()), 0o700); err != nil {
		return fmt.Errorf("watch cookie store: %w", err)
	}
	w, err := cookiestore.NewWatcher(s.store, cookiestore.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("watch cookie store: %w", err)
	}
	domain, err := cookieDomain(s.cfg)
	if err != nil {
		return err
	}
	w.OnReload = func(err error) {
		if err != nil {
			return
		}
		log.Infof("cookie store reloaded: %d cookies for %s", len(s.store.Lookup(domain)), domain)
	}
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("cookie store watcher stopped: %v", err)
		}
	}()
	return nil
}
