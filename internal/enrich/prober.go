// Package enrich implements the website enrichment probe: it checks crawl
// permission, fetches a single bounded page, and extracts contact emails.
package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls probe behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	HostRPS      float64
}

// Prober implements prospector.Enricher. Every failure path yields an
// empty result; enrichment must never fail a batch.
type Prober struct {
	cfg     Config
	robots  *robotsGate
	limiter *hostLimiter
	logger  *zap.Logger
}

// New builds a Prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; ProspectorBot/1.0)"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 100 * 1024
	}
	if cfg.HostRPS <= 0 {
		cfg.HostRPS = 1
	}
	return &Prober{
		cfg:     cfg,
		robots:  newRobotsGate(cfg.UserAgent, cfg.Timeout, logger),
		limiter: newHostLimiter(cfg.HostRPS),
		logger:  logger,
	}
}

// Enrich fetches the candidate website and returns up to three ranked
// contact emails. Returns nil when the site blocks crawling, the fetch
// fails, or no emails are found.
func (p *Prober) Enrich(ctx context.Context, website, domain string) []string {
	if website == "" {
		return nil
	}
	if !strings.HasPrefix(website, "http://") && !strings.HasPrefix(website, "https://") {
		website = "https://" + website
	}

	if !p.robots.Allowed(ctx, website) {
		p.logger.Info("robots policy disallows enrichment", zap.String("website", website))
		return nil
	}

	if err := p.limiter.Wait(ctx, website); err != nil {
		p.logger.Debug("enrichment rate limit wait canceled", zap.Error(err))
		return nil
	}

	body, ok := p.fetchPage(website)
	if !ok {
		return nil
	}

	emails := extractEmails(body, domain)
	if len(emails) > 0 {
		p.logger.Info("enrichment found emails",
			zap.String("website", website),
			zap.Int("count", len(emails)),
		)
	}
	return emails
}

// fetchPage retrieves the landing page via colly, bounded in size and
// time, and only when the response is HTML.
func (p *Prober) fetchPage(website string) (string, bool) {
	collector := colly.NewCollector(
		colly.UserAgent(p.cfg.UserAgent),
		colly.MaxBodySize(p.cfg.MaxBodyBytes),
		colly.IgnoreRobotsTxt(), // permission already evaluated by the gate
	)
	collector.SetRequestTimeout(p.cfg.Timeout)

	var (
		body     string
		fetched  bool
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		contentType := strings.ToLower(r.Headers.Get("Content-Type"))
		if !strings.Contains(contentType, "text/html") {
			p.logger.Debug("skipping non-HTML content",
				zap.String("website", website),
				zap.String("content_type", contentType),
			)
			return
		}
		body = string(r.Body)
		fetched = true
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := collector.Visit(website); err != nil {
		fetchErr = err
	}
	collector.Wait()

	if fetchErr != nil {
		p.logger.Debug("enrichment fetch failed",
			zap.String("website", website),
			zap.Error(fetchErr),
		)
		return "", false
	}
	return body, fetched
}

// hostLimiter spreads enrichment fetches per host so one batch cannot
// hammer a single site.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
}

func newHostLimiter(rps float64) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
	}
}

// Wait blocks until a token is available for the URL's host.
func (l *hostLimiter) Wait(ctx context.Context, website string) error {
	host := hostOf(website)
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rps, 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}

func hostOf(website string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(website, "https://"), "http://")
	if i := strings.IndexAny(trimmed, "/?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.ToLower(trimmed)
}
