package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/LubyRuffy/freeloader/config"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/importer"
	"github.com/LubyRuffy/freeloader/supervisor"
	"github.com/spf13/cobra"
)

func newCookiesCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Manage the local cookie store",
	}
	cmd.AddCommand(
		newCookiesImportCmd(global),
		newCookiesSetCmd(global),
		newCookiesListCmd(global),
		newCookiesClearCmd(global),
	)
	return cmd
}

// openStore 按配置打开 cookie 存储，同时返回合并后的配置。
func openStore(cmd *cobra.Command, global *globalOptions, extra func(cfg *config.Config)) (*config.Config, *cookiestore.Store, error) {
	cfg, err := loadConfig(cmd, global, extra)
	if err != nil {
		return nil, nil, err
	}
	store, err := cookiestore.Open(cfg.Cookies.StorePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func resolveDomain(cfg *config.Config, flagDomain string) (string, error) {
	if d := strings.TrimSpace(flagDomain); d != "" {
		return d, nil
	}
	return cookieDomain(cfg)
}

func newCookiesImportCmd(global *globalOptions) *cobra.Command {
	var (
		browser string
		domain  string
		source  string
		command string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import cookies for the backend domain from a browser",
		Long: `Import cookies for a domain and replace whatever the store held for it.

Sources:
  command  run the configured extraction tool: <command> --browser B --domain D
  file     read a JSON cookie export
  env      read FREELOADER_COOKIES="name=value; name2=value2"
  auto     try command, file and env in order`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd, global, func(cfg *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("source") {
					cfg.Import.Source = source
				}
				if flags.Changed("command") {
					cfg.Import.Command = command
				}
				if flags.Changed("file") {
					cfg.Import.File = file
				}
			})
			if err != nil {
				return err
			}
			b, err := importer.NormalizeBrowser(browser)
			if err != nil {
				return err
			}
			d, err := resolveDomain(cfg, domain)
			if err != nil {
				return err
			}
			src, err := importer.New(cfg.Import.Source, importer.Options{
				Command: cfg.Import.Command,
				File:    cfg.Import.File,
			})
			if err != nil {
				return err
			}

			records, err := cfg.ImportPolicy().ImportWithRetry(cmd.Context(), src, store, b, d)
			if err != nil {
				if errors.Is(err, supervisor.ErrImportFailed) {
					printWarn(cmd.ErrOrStderr(), "%s", supervisor.ManualEntryHint)
				}
				return err
			}
			printOK(cmd.OutOrStdout(), "imported %d cookies for %s from %s into %s",
				len(records), domainStyle.Render(d), b, dimStyle.Render(store.Path()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&browser, "browser", "b", importer.BrowserChrome, "browser: "+strings.Join(importer.Browsers(), "|"))
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "cookie domain (default: host:port of the backend url)")
	cmd.Flags().StringVar(&source, "source", "", "import source: command|file|env|auto")
	cmd.Flags().StringVar(&command, "command", "", "external cookie extraction command")
	cmd.Flags().StringVar(&file, "file", "", "JSON cookie export file")
	return cmd
}

func newCookiesSetCmd(global *globalOptions) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "set name=value [name=value...]",
		Short: "Store cookies entered by hand (replaces the domain's cookies)",
		Example: `  freeloader cookies set --domain chat.example.com session=abc csrf=def
  freeloader cookies set "session=abc; csrf=def"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd, global, nil)
			if err != nil {
				return err
			}
			d, err := resolveDomain(cfg, domain)
			if err != nil {
				return err
			}
			records, err := importer.ParseCookieString(strings.Join(args, "; "), d)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return importer.ErrNoCookies
			}
			if err := store.ImportDomain(d, records); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "stored %d cookies for %s", len(records), domainStyle.Render(d))
			return nil
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "cookie domain (default: host:port of the backend url)")
	return cmd
}

func newCookiesListCmd(global *globalOptions) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored cookies (values are masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(cmd, global, nil)
			if err != nil {
				return err
			}
			domains := store.Domains()
			if d := strings.TrimSpace(domain); d != "" {
				domains = []string{strings.ToLower(d)}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Cookie store")+" "+dimStyle.Render(store.Path()))
			if len(domains) == 0 {
				fmt.Fprintln(out, dimStyle.Render("  (empty)"))
				return nil
			}
			now := time.Now()
			for _, d := range domains {
				records := store.Get(d)
				fmt.Fprintf(out, "  %s %s\n", domainStyle.Render(d), dimStyle.Render(fmt.Sprintf("(%d)", len(records))))
				sort.SliceStable(records, func(i, j int) bool { return records[i].Name < records[j].Name })
				for _, r := range records {
					fmt.Fprintf(out, "    %-24s %-12s %s\n", r.Name, maskValue(r.Value), expiryLabel(r, now))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "only list this domain")
	return cmd
}

func newCookiesClearCmd(global *globalOptions) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove stored cookies for one domain, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(cmd, global, nil)
			if err != nil {
				return err
			}
			if err := store.Clear(domain); err != nil {
				return err
			}
			if strings.TrimSpace(domain) == "" {
				printOK(cmd.OutOrStdout(), "cleared all cookies")
			} else {
				printOK(cmd.OutOrStdout(), "cleared cookies for %s", domainStyle.Render(domain))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to clear (default: all)")
	return cmd
}

func maskValue(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", min(len(v)-4, 8))
}

func expiryLabel(r cookiestore.Record, now time.Time) string {
	switch {
	case r.ExpiresAt <= 0:
		return dimStyle.Render("session")
	case r.Expired(now):
		return warnStyle.Render("expired")
	default:
		return dimStyle.Render("expires " + time.Unix(r.ExpiresAt, 0).Format(time.DateTime))
	}
}
