package dfapi

import (
	"log/slog"
	"sync"
)

// Mode selects which backends participate in a request and in what order.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModePrimary Mode = "primary"
	ModeAlt1    Mode = "alt1"
	ModeAlt2    Mode = "alt2"
)

// ParseMode accepts the canonical names and the legacy backend aliases
// (default, eo, esa). Unknown values report ok=false.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "auto", "":
		return ModeAuto, true
	case "primary", "default":
		return ModePrimary, true
	case "alt1", "eo":
		return ModeAlt1, true
	case "alt2", "esa":
		return ModeAlt2, true
	}
	return ModeAuto, false
}

// Endpoints holds the base URLs of the interchangeable backends.
type Endpoints struct {
	Primary string
	Alt1    string
	Alt2    string
}

var DefaultEndpoints = Endpoints{
	Primary: "https://df-api.shallow.ink",
	Alt1:    "https://df-api-eo.shallow.ink",
	Alt2:    "https://df-api-esa.shallow.ink",
}

// PoolStatus is a point-in-time view of the pool for diagnostics.
type PoolStatus struct {
	Mode       Mode     `json:"mode"`
	CurrentURL string   `json:"current_url"`
	Available  []string `json:"available_urls"`
	Failed     []string `json:"failed_urls"`
	Total      int      `json:"total_urls"`
}

// Pool tracks the configured backends and which of them failed during this
// process lifetime. Failure marks are never persisted.
type Pool struct {
	mu        sync.Mutex
	endpoints Endpoints
	mode      Mode
	failed    map[string]struct{}
	logger    *slog.Logger
}

func NewPool(endpoints Endpoints, mode Mode, logger *slog.Logger) *Pool {
	return &Pool{
		endpoints: endpoints,
		mode:      mode,
		failed:    make(map[string]struct{}),
		logger:    logger.With("component", "endpoint_pool"),
	}
}

func (p *Pool) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode switches strategy and clears all failure marks.
func (p *Pool) SetMode(mode Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	clear(p.failed)
	p.logger.Info("api mode changed", "mode", mode)
}

// SelectEndpoints returns the usable base URLs for mode, in priority order.
// When every candidate is marked failed the marks are cleared first, so the
// result is never empty.
func (p *Pool) SelectEndpoints(mode Mode) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.candidates(mode)
	usable := p.filter(candidates)
	if len(usable) == 0 && len(candidates) > 0 {
		p.logger.Warn("all endpoints marked failed, resetting failures", "mode", mode)
		clear(p.failed)
		usable = candidates
	}
	return usable
}

// Endpoints is SelectEndpoints for the active mode.
func (p *Pool) Endpoints() []string {
	return p.SelectEndpoints(p.Mode())
}

func (p *Pool) MarkFailed(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[url] = struct{}{}
	p.logger.Warn("endpoint marked failed", "url", url)
}

func (p *Pool) ResetFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.failed)
	p.logger.Info("endpoint failures reset")
}

func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.candidates(p.mode)
	available := p.filter(candidates)
	failed := make([]string, 0, len(p.failed))
	for _, url := range candidates {
		if _, ok := p.failed[url]; ok {
			failed = append(failed, url)
		}
	}

	current := p.endpoints.Primary
	if len(available) > 0 {
		current = available[0]
	}
	return PoolStatus{
		Mode:       p.mode,
		CurrentURL: current,
		Available:  available,
		Failed:     failed,
		Total:      len(candidates),
	}
}

// candidates lists the base URLs for mode. Auto tries the alternates before
// the primary; a single-backend mode without a configured URL uses the primary.
func (p *Pool) candidates(mode Mode) []string {
	var urls []string
	switch mode {
	case ModePrimary:
		urls = []string{p.endpoints.Primary}
	case ModeAlt1:
		urls = []string{orPrimary(p.endpoints.Alt1, p.endpoints.Primary)}
	case ModeAlt2:
		urls = []string{orPrimary(p.endpoints.Alt2, p.endpoints.Primary)}
	default:
		urls = []string{p.endpoints.Alt1, p.endpoints.Alt2, p.endpoints.Primary}
	}

	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}

func (p *Pool) filter(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if _, bad := p.failed[url]; !bad {
			out = append(out, url)
		}
	}
	return out
}

func orPrimary(url, primary string) string {
	if url == "" {
		return primary
	}
	return url
}
