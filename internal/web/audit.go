package web

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/logger"
)

// AuditReport compares what the app shell references with the manifest.
type AuditReport struct {
	Visited []string `json:"visited"`
	// Missing are same-origin assets referenced by a page but not precached.
	Missing []string `json:"missing"`
	// Unreferenced are manifest entries no crawled page points at. They may
	// still be loaded by scripts.
	Unreferenced []string `json:"unreferenced"`
	Failures     []string `json:"failures,omitempty"`
}

// OK reports a manifest that covers every referenced asset.
func (r *AuditReport) OK() bool { return len(r.Missing) == 0 }

// Auditor crawls the pages under a scope.
type Auditor struct {
	// MaxDepth limits link following; 1 visits only the scope root.
	MaxDepth int
	Timeout  time.Duration
}

// assetSelectors maps selectors to the attribute holding the asset URL.
var assetSelectors = map[string]string{
	"script[src]":          "src",
	"link[href]":           "href",
	"img[src]":             "src",
	"source[src]":          "src",
	"object[data]":         "data",
	"embed[src]":           "src",
	"param[name=movie]":    "value",
	"meta[name=msapp-img]": "content",
}

// Audit crawls scope and checks every referenced same-origin asset against
// assets, which are paths relative to scope.
func (a Auditor) Audit(ctx context.Context, scope *url.URL, assets []string) (*AuditReport, error) {
	depth := a.MaxDepth
	if depth <= 0 {
		depth = 2
	}
	c := colly.NewCollector(
		colly.AllowedDomains(scope.Hostname()),
		colly.MaxDepth(depth),
		colly.URLFilters(regexp.MustCompile("^"+regexp.QuoteMeta(scope.String()))),
	)
	c.Context = ctx
	if a.Timeout > 0 {
		c.SetRequestTimeout(a.Timeout)
	}

	var (
		mu         sync.Mutex
		visited    []string
		failures   []string
		referenced = map[cache.Key]bool{}
	)
	note := func(e *colly.HTMLElement, ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") {
			return
		}
		abs, err := url.Parse(e.Request.AbsoluteURL(ref))
		if err != nil || abs.Host != scope.Host {
			return
		}
		mu.Lock()
		referenced[cache.KeyOf(abs).WithoutQuery()] = true
		mu.Unlock()
	}

	for sel, attr := range assetSelectors {
		c.OnHTML(sel, func(e *colly.HTMLElement) { note(e, e.Attr(attr)) })
	}
	// The page picks a game from a <select>; each option names a movie under
	// assets/swf.
	c.OnHTML("select#selector", func(e *colly.HTMLElement) {
		e.DOM.Find("option[value]").Each(func(_ int, s *goquery.Selection) {
			note(e, "assets/swf/"+s.AttrOr("value", "")+".swf")
		})
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if strings.HasPrefix(href, "#") {
			return
		}
		_ = e.Request.Visit(href)
	})
	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		visited = append(visited, r.Request.URL.String())
		referenced[cache.KeyOf(r.Request.URL).WithoutQuery()] = true
		mu.Unlock()
	})
	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		failures = append(failures, r.Request.URL.String()+": "+err.Error())
		mu.Unlock()
	})

	if err := c.Visit(scope.String()); err != nil && len(visited) == 0 {
		return nil, err
	}
	c.Wait()

	listed := make(map[cache.Key]string, len(assets))
	for _, asset := range assets {
		ref, err := url.Parse(asset)
		if err != nil {
			continue
		}
		listed[cache.KeyOf(scope.ResolveReference(ref)).WithoutQuery()] = asset
	}

	report := &AuditReport{Visited: visited, Failures: failures}
	for k := range referenced {
		if _, ok := listed[k]; !ok {
			report.Missing = append(report.Missing, string(k))
		}
	}
	for k, asset := range listed {
		if !referenced[k] {
			report.Unreferenced = append(report.Unreferenced, asset)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Unreferenced)
	sort.Strings(report.Visited)
	logger.Infof("audit %s: %d visited, %d missing, %d unreferenced", scope, len(visited), len(report.Missing), len(report.Unreferenced))
	return report, nil
}
