package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/harvest"
	"github.com/xkilldash9x/harvest-cli/internal/network"
	"github.com/xkilldash9x/harvest-cli/internal/observability"
	"github.com/xkilldash9x/harvest-cli/internal/pool"
)

// newCrawlCmd creates and configures the `crawl` command.
func newCrawlCmd() *cobra.Command {
	var (
		count    int
		out      string
		sleep    time.Duration
		profile  string
		insecure bool
		proxy    string
	)

	crawlCmd := &cobra.Command{
		Use:   "crawl [keyword...]",
		Short: "Downloads the image results for one or more keywords",
		Long: `Crawl pages through the image search results for each keyword and saves
every image under <out>/<keyword>. Keywords are crawled concurrently and share
one download pool. With no keyword the configured crawl.keyword is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}

			// Flags override file and env values only when given explicitly.
			flags := cmd.Flags()
			if flags.Changed("count") {
				cfg.SetCrawlCount(count)
			}
			if flags.Changed("out") {
				cfg.SetCrawlOutputDir(out)
			}
			if flags.Changed("sleep") {
				cfg.SetCrawlSleep(sleep)
			}
			if flags.Changed("profile") {
				cfg.SetCrawlProfile(profile)
			}
			if flags.Changed("insecure") {
				cfg.SetNetworkInsecureTLS(insecure)
			}
			if flags.Changed("proxy") {
				cfg.SetNetworkProxy(proxy)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			keywords := args
			if len(keywords) == 0 {
				keywords = []string{cfg.Crawl().Keyword}
			}
			return runCrawl(cmd.Context(), cfg, keywords, observability.GetLogger())
		},
	}

	crawlCmd.Flags().IntVarP(&count, "count", "n", 0, "number of results to page through per keyword")
	crawlCmd.Flags().StringVarP(&out, "out", "o", "", "root directory for downloaded images")
	crawlCmd.Flags().DurationVar(&sleep, "sleep", 0, "upper bound of the random pause before each page")
	crawlCmd.Flags().StringVar(&profile, "profile", "", "search endpoint profile (mobile or desktop)")
	crawlCmd.Flags().BoolVarP(&insecure, "insecure", "k", false, "accept any TLS certificate chain")
	crawlCmd.Flags().StringVar(&proxy, "proxy", "", "HTTP proxy as host:port or user:pass@host:port")

	return crawlCmd
}

// runCrawl runs one crawler per keyword. All crawlers share the engine
// defaults and one download pool; each keyword gets its own session so
// cookies never leak between searches.
func runCrawl(ctx context.Context, cfg config.Interface, keywords []string, logger *zap.Logger) error {
	engine := network.NewEngine(network.NewDefaultsFromConfig(cfg.Network()), logger)
	workers := pool.New(cfg.Pool(), logger)
	defer workers.Stop()

	crawlers := make([]*harvest.Crawler, 0, len(keywords))
	for _, keyword := range keywords {
		opts, err := harvest.OptionsFromConfig(cfg.Crawl(), keyword)
		if err != nil {
			return err
		}
		session, err := newSession(engine, cfg.Network())
		if err != nil {
			return err
		}
		crawler, err := harvest.New(opts, session, workers, logger)
		if err != nil {
			return err
		}
		crawlers = append(crawlers, crawler)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, crawler := range crawlers {
		g.Go(func() error {
			return crawler.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	return nil
}

// newSession opens a session carrying the configured proxy, charset and timeout.
func newSession(engine *network.Engine, cfg config.NetworkConfig) (*network.Session, error) {
	session := engine.NewSession()
	if cfg.Proxy != "" {
		p, err := network.ParseProxy(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		session.SetProxy(p)
	}
	if cfg.Charset != "" {
		if !network.IsSupportedCharset(cfg.Charset) {
			return nil, fmt.Errorf("unsupported charset %q", cfg.Charset)
		}
		session.SetCharset(cfg.Charset)
	}
	if cfg.Timeout > 0 {
		session.SetTimeout(cfg.Timeout)
	}
	return session, nil
}
