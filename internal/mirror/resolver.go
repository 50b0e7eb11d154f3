// Package mirror resolves the newest feed item of an identifier by trying a
// fixed, ordered list of mirror hosts until one answers.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"mirrorwatch/internal/feed"
	"mirrorwatch/internal/metrics"
	logx "mirrorwatch/pkg/logx"
)

const (
	DefaultURLTemplate   = "https://{host}/{id}/rss"
	DefaultCanonicalHost = "x.com"
)

// DefaultMirrors is the priority order used when none are configured.
var DefaultMirrors = []string{"xcancel.com", "nitter.net", "nitter.privacydev.net"}

// ErrNoMirrorAvailable means every mirror failed for an identifier.
var ErrNoMirrorAvailable = errors.New("no mirror available")

// Attempt is the outcome of asking one mirror.
type Attempt struct {
	Mirror string
	Items  int
	Took   time.Duration
	Err    error
}

// Resolution is the first successful answer. Item.Link is already rewritten
// to the canonical host.
type Resolution struct {
	Item     feed.Item
	Mirror   string
	Attempts []Attempt
}

type Options struct {
	Mirrors       []string
	CanonicalHost string
	URLTemplate   string
}

func (o Options) normalized() Options {
	var hosts []string
	for _, h := range o.Mirrors {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		hosts = append(hosts, DefaultMirrors...)
	}
	o.Mirrors = hosts
	if strings.TrimSpace(o.CanonicalHost) == "" {
		o.CanonicalHost = DefaultCanonicalHost
	}
	if strings.TrimSpace(o.URLTemplate) == "" {
		o.URLTemplate = DefaultURLTemplate
	}
	return o
}

type Resolver struct {
	src feed.Source
	log logx.Logger

	mu  sync.RWMutex
	opt Options
}

func New(src feed.Source, opt Options, log logx.Logger) *Resolver {
	return &Resolver{src: src, log: log, opt: opt.normalized()}
}

func (r *Resolver) Apply(opt Options) {
	opt = opt.normalized()
	r.mu.Lock()
	r.opt = opt
	r.mu.Unlock()
}

func (r *Resolver) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o := r.opt
	o.Mirrors = append([]string(nil), r.opt.Mirrors...)
	return o
}

// ResolveLatest walks the mirrors in order and returns the first non-empty
// feed's head item. A failing mirror is logged and skipped.
func (r *Resolver) ResolveLatest(ctx context.Context, id string) (Resolution, error) {
	opt := r.Options()
	attempts := make([]Attempt, 0, len(opt.Mirrors))

	for _, host := range opt.Mirrors {
		if err := ctx.Err(); err != nil {
			return Resolution{Attempts: attempts}, err
		}

		start := time.Now()
		items, err := r.src.Fetch(ctx, host, FeedURL(opt.URLTemplate, host, id))
		a := Attempt{Mirror: host, Items: len(items), Took: time.Since(start), Err: err}
		if err == nil && len(items) == 0 {
			a.Err = feed.ErrEmpty
		}
		attempts = append(attempts, a)

		if a.Err != nil {
			result := "error"
			if errors.Is(a.Err, feed.ErrEmpty) {
				result = "empty"
			}
			metrics.ObserveFetch(host, result, a.Took)
			r.log.Warn("mirror failed",
				logx.String("identifier", id),
				logx.String("mirror", host),
				logx.Duration("took", a.Took),
				logx.Err(a.Err),
			)
			continue
		}

		metrics.ObserveFetch(host, "ok", a.Took)
		item := items[0]
		item.Link = RewriteLocator(item.Link, host, opt.CanonicalHost)
		return Resolution{Item: item, Mirror: host, Attempts: attempts}, nil
	}

	errs := make([]error, 0, len(attempts)+1)
	errs = append(errs, ErrNoMirrorAvailable)
	for _, a := range attempts {
		errs = append(errs, fmt.Errorf("%s: %w", a.Mirror, a.Err))
	}
	return Resolution{Attempts: attempts}, fmt.Errorf("resolve %s: %w", id, errors.Join(errs...))
}

// FeedURL expands {host} and {id} in tmpl. The id is path-escaped.
func FeedURL(tmpl, host, id string) string {
	return strings.NewReplacer("{host}", host, "{id}", url.PathEscape(id)).Replace(tmpl)
}

// RewriteLocator points link at the canonical host. A link whose URL host is
// the mirror gets its host swapped and scheme forced to https; anything else
// gets a plain substring replace of the mirror host.
func RewriteLocator(link, mirrorHost, canonical string) string {
	if link == "" || mirrorHost == "" || canonical == "" {
		return link
	}
	if u, err := url.Parse(link); err == nil && u.Host != "" && strings.EqualFold(u.Hostname(), mirrorHost) {
		u.Scheme = "https"
		u.Host = canonical
		return u.String()
	}
	return strings.ReplaceAll(link, mirrorHost, canonical)
}
