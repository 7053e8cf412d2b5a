package agent

// scraper.go fetches regulation pages from official sources and extracts
// their readable text.

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/taxpilot/taxpilot/internal/log"
)

// ScraperConfig controls politeness and timeouts for source fetching.
type ScraperConfig struct {
	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration
}

// ScrapedPage is the readable content extracted from one source page.
type ScrapedPage struct {
	URL     string
	Title   string
	Content string
	Links   []string
}

// Scraper fetches and extracts regulation source pages.
type Scraper struct {
	cfg    ScraperConfig
	logger log.Logger
}

// NewScraper creates a Scraper.
func NewScraper(cfg ScraperConfig, logger log.Logger) *Scraper {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Scraper{cfg: cfg, logger: logger}
}

// Fetch downloads one page and extracts its readable text.
// Same-host links found in the page body are returned for discovery.
func (s *Scraper) Fetch(pageURL string) (*ScrapedPage, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid source URL %q", pageURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in source URL", parsed.Scheme)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(s.cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: s.cfg.Parallelism,
		Delay:       s.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configuring scrape limits: %w", err)
	}

	page := &ScrapedPage{URL: pageURL}
	var body []byte
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link != "" && sameHost(link, parsed.Host) {
			page.Links = append(page.Links, link)
		}
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("visiting %s: %w", pageURL, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, fetchErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetching %s: empty response", pageURL)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		// Readability fails on sparse pages; fall back to raw text extraction.
		s.logger.Debug("readability extraction failed, using raw text",
			"url", pageURL, "error", err)
		title, text, rawErr := rawText(body)
		if rawErr != nil {
			return nil, fmt.Errorf("extracting content from %s: %w", pageURL, rawErr)
		}
		page.Title = title
		page.Content = text
		return page, nil
	}

	page.Title = article.Title
	page.Content = strings.TrimSpace(article.TextContent)
	return page, nil
}

// rawText strips markup from an HTML body without readability heuristics.
func rawText(body []byte) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find("script, style, nav, footer").Remove()
	title = strings.TrimSpace(doc.Find("title").First().Text())
	text = strings.TrimSpace(doc.Find("body").Text())
	return title, strings.Join(strings.Fields(text), " "), nil
}

func sameHost(link, host string) bool {
	u, err := url.Parse(link)
	return err == nil && u.Host == host
}
