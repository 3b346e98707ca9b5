package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/config"
	"github.com/LubyRuffy/freeloader/cookiestore"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globalOptions 是所有子命令共享的参数，只有显式传入的才覆盖配置。
type globalOptions struct {
	configPath  string
	backend     string
	backendURL  string
	cookieStore string
	debug       bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "freeloader",
		Short: "OpenAI-compatible API in front of cookie-authenticated web chat backends",
		Long: `freeloader exposes /v1/models, /v1/chat/completions and /v1/embeddings
and forwards them to a locally running web-chat backend (ai-gateway or
chatgpt-adapter), authenticated with cookies imported from your browser.

Quick Start:
  freeloader cookies import --browser chrome   # import the backend session
  freeloader serve                             # start the API on 127.0.0.1:8000
  freeloader ask "hello"                       # one-shot chat from the terminal`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&opts.backend, "backend", "", "backend kind: "+backendNames())
	pf.StringVar(&opts.backendURL, "backend-url", "", "backend base url (default depends on --backend)")
	pf.StringVar(&opts.cookieStore, "cookie-store", "", "cookie store path (default "+config.DefaultStorePath+")")
	pf.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newCookiesCmd(opts),
		newAskCmd(opts),
	)
	return root
}

// loadConfig 合并配置文件、环境变量与命令行参数并校验。extra 用于子命令自己的参数。
func loadConfig(cmd *cobra.Command, opts *globalOptions, extra func(cfg *config.Config)) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = opts.backend
	}
	if flags.Changed("backend-url") {
		cfg.BackendURL = opts.backendURL
	}
	if flags.Changed("cookie-store") {
		cfg.Cookies.StorePath = opts.cookieStore
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if extra != nil {
		extra(cfg)
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	configureLogging(cfg.Debug)
	return cfg, nil
}

func configureLogging(debug bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}

// cookieDomain 返回读写 cookie 所用的 domain：显式配置优先，否则取后端地址的 host:port。
func cookieDomain(cfg *config.Config) (string, error) {
	if d := strings.TrimSpace(cfg.Cookies.Domain); d != "" {
		return d, nil
	}
	return cookiestore.DomainFromURL(cfg.BackendURL)
}

// addrForLocalClient 把监听地址转换成本机客户端可访问的地址（用于提示信息）。
func addrForLocalClient(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func backendNames() string {
	kinds := freeloader.BackendKinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, "|")
}
