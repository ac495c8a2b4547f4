// internal/harvest/crawler.go
package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/network"
	"github.com/xkilldash9x/harvest-cli/internal/pool"
)

// DefaultLandingURL is fetched periodically to refresh the session cookies.
const DefaultLandingURL = "https://image.baidu.com/"

// Submitter is the part of the worker pool the crawler depends on.
type Submitter interface {
	Submit(task pool.Task) (uuid.UUID, *pool.Future, error)
}

// Options configures one crawl.
type Options struct {
	Keyword   string
	Count     int
	OutputDir string
	// Sleep bounds the random pause taken before every page fetch.
	Sleep        time.Duration
	Profile      Profile
	LandingURL   string
	RefreshPages int
}

// OptionsFromConfig resolves cfg for keyword. The output directory is the
// configured root, with "~" expanded, joined with the keyword.
func OptionsFromConfig(cfg config.CrawlConfig, keyword string) (Options, error) {
	if keyword = strings.TrimSpace(keyword); keyword == "" {
		keyword = cfg.Keyword
	}
	profile, err := LookupProfile(cfg.Profile)
	if err != nil {
		return Options{}, err
	}
	root := cfg.OutputDir
	if root == "" {
		root = "download"
	}
	root, err = homedir.Expand(root)
	if err != nil {
		return Options{}, fmt.Errorf("failed to resolve output directory %q: %w", cfg.OutputDir, err)
	}
	return Options{
		Keyword:      keyword,
		Count:        cfg.Count,
		OutputDir:    filepath.Join(root, keyword),
		Sleep:        cfg.Sleep,
		Profile:      profile,
		LandingURL:   cfg.LandingURL,
		RefreshPages: cfg.RefreshPages,
	}, nil
}

func (o Options) validate() error {
	switch {
	case strings.TrimSpace(o.Keyword) == "":
		return errors.New("keyword is required")
	case o.Count <= 0:
		return errors.New("count must be positive")
	case o.OutputDir == "":
		return errors.New("output directory is required")
	case o.Profile.Template == "" || len(o.Profile.Path) == 0 || o.Profile.PageSize <= 0:
		return errors.New("profile is incomplete")
	case o.Sleep < 0:
		return errors.New("sleep must not be negative")
	}
	return nil
}

// Stats is a point-in-time view of crawl progress.
type Stats struct {
	Pages      int64
	Discovered int64
	Saved      int64
	Failed     int64
}

// Crawler walks the result pages for one keyword and hands every new image
// URL to the pool for download.
type Crawler struct {
	opts    Options
	session *network.Session
	pool    Submitter
	logger  *zap.Logger
	jitter  func(bound time.Duration) time.Duration

	seen  map[string]struct{}
	index atomic.Int64

	pages, discovered, saved, failed atomic.Int64

	mu      sync.Mutex
	futures []*pool.Future
}

// New builds a crawler. Page fetches and downloads share session.
func New(opts Options, session *network.Session, submitter Submitter, logger *zap.Logger) (*Crawler, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl options: %w", err)
	}
	if session == nil || submitter == nil {
		return nil, errors.New("crawler requires a session and a pool")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		opts:    opts,
		session: session,
		pool:    submitter,
		logger:  logger.With(zap.String("component", "crawler"), zap.String("keyword", opts.Keyword)),
		jitter:  randomJitter,
		seen:    make(map[string]struct{}),
	}, nil
}

func randomJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return rand.N(bound)
}

// Run crawls until Count results have been paged through or ctx ends, then
// waits for the submitted downloads.
func (c *Crawler) Run(ctx context.Context) error {
	if err := os.MkdirAll(c.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	started := time.Now()
	c.logger.Info("Starting crawl",
		zap.String("profile", c.opts.Profile.Name),
		zap.Int("count", c.opts.Count),
		zap.String("output_dir", c.opts.OutputDir),
	)

	runErr := c.crawlPages(ctx)
	waitErr := c.Wait(ctx)

	stats := c.Stats()
	c.logger.Info("Crawl finished",
		zap.Int64("pages", stats.Pages),
		zap.Int64("discovered", stats.Discovered),
		zap.Int64("saved", stats.Saved),
		zap.Int64("failed", stats.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)
	if runErr != nil {
		return runErr
	}
	return waitErr
}

func (c *Crawler) crawlPages(ctx context.Context) error {
	for start, page := 0, 0; start < c.opts.Count; start, page = start+c.opts.Profile.PageSize, page+1 {
		if c.opts.RefreshPages > 0 && page%c.opts.RefreshPages == 0 && c.opts.LandingURL != "" {
			c.refresh(ctx)
		}
		if err := c.pause(ctx); err != nil {
			return err
		}

		urls, err := c.fetchPage(ctx, start)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Failed to fetch result page", zap.Int("start", start), zap.Error(err))
			continue
		}
		c.pages.Add(1)

		fresh := 0
		for _, u := range urls {
			if _, dup := c.seen[u]; dup {
				continue
			}
			c.seen[u] = struct{}{}
			c.discovered.Add(1)
			fresh++
			c.download(ctx, u)
		}
		c.logger.Debug("Result page processed", zap.Int("start", start), zap.Int("urls", len(urls)), zap.Int("new", fresh))
	}
	return nil
}

// refresh revisits the landing page so the session picks up fresh cookies.
func (c *Crawler) refresh(ctx context.Context) {
	if _, err := c.session.Build(c.opts.LandingURL).Execute(ctx); err != nil {
		c.logger.Warn("Failed to refresh session cookies", zap.String("url", c.opts.LandingURL), zap.Error(err))
	}
}

func (c *Crawler) pause(ctx context.Context) error {
	d := c.jitter(c.opts.Sleep)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Crawler) fetchPage(ctx context.Context, start int) ([]string, error) {
	pageURL := c.opts.Profile.PageURL(c.opts.Keyword, start)
	resp, err := c.session.Build(pageURL).EncodeURL(true).Execute(ctx)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	text, err := resp.Text()
	if err != nil {
		return nil, err
	}
	return ExtractValues([]byte(text), c.opts.Profile.Path...), nil
}

// download submits the fetch-and-save of one image. The task stops when either
// the pool or the crawl cancels it.
func (c *Crawler) download(runCtx context.Context, imageURL string) {
	_, future, err := c.pool.Submit(func(taskCtx context.Context) error {
		ctx, cancel := context.WithCancel(taskCtx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()

		if err := c.save(ctx, imageURL); err != nil {
			c.failed.Add(1)
			return err
		}
		c.saved.Add(1)
		return nil
	})
	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("Download not scheduled", zap.String("url", imageURL), zap.Error(err))
		return
	}
	if future == nil {
		return
	}
	c.mu.Lock()
	c.futures = append(c.futures, future)
	c.mu.Unlock()
}

func (c *Crawler) save(ctx context.Context, imageURL string) error {
	resp, err := c.session.Build(imageURL).Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", imageURL, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("failed to download %s: status %d", imageURL, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return fmt.Errorf("failed to download %s: empty body", imageURL)
	}

	name := FileName(c.index.Add(1), c.opts.Count, uuid.New(), ImageExtension(imageURL, body))
	target := filepath.Join(c.opts.OutputDir, name)
	if err := os.WriteFile(target, body, 0o644); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	c.logger.Debug("Image saved", zap.String("url", imageURL), zap.String("file", name), zap.Int("bytes", len(body)))
	return nil
}

// Wait blocks until every download submitted so far has finished, or ctx ends.
// Download failures are counted in Stats, not returned.
func (c *Crawler) Wait(ctx context.Context) error {
	c.mu.Lock()
	pending := c.futures
	c.futures = nil
	c.mu.Unlock()

	for i, f := range pending {
		if err := f.Wait(ctx); err != nil && ctx.Err() != nil {
			// Keep what is still outstanding for a later Wait.
			c.mu.Lock()
			c.futures = append(pending[i:], c.futures...)
			c.mu.Unlock()
			return ctx.Err()
		}
	}
	return nil
}

// Stats reports progress so far.
func (c *Crawler) Stats() Stats {
	return Stats{
		Pages:      c.pages.Load(),
		Discovered: c.discovered.Load(),
		Saved:      c.saved.Load(),
		Failed:     c.failed.Load(),
	}
}
