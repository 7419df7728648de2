package collyfetcher

import (
	"context"
	"fmt"
	"net/url"

	"github.com/temoto/robotstxt"
)

// Robots is the parsed robots.txt of a site.
type Robots struct {
	// Exists is true when /robots.txt answered 200.
	Exists bool
	// Parsed is true when the body could be parsed.
	Parsed   bool
	Sitemaps []string
	data     *robotstxt.RobotsData
}

// Allowed reports whether agent may fetch path. Missing or unparsable files allow all.
func (r Robots) Allowed(path, agent string) bool {
	if r.data == nil {
		return true
	}
	return r.data.TestAgent(path, agent)
}

// Robots fetches and parses origin/robots.txt. origin is a scheme and host such as
// https://example.com.
func (f *Fetcher) Robots(ctx context.Context, origin string) (Robots, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return Robots{}, fmt.Errorf("parse origin: %w", err)
	}
	robotsURL := base.ResolveReference(&url.URL{Path: "/robots.txt"}).String()
	page, err := f.Get(ctx, robotsURL)
	if err != nil {
		return Robots{}, err
	}
	return ParseRobots(page.StatusCode, page.Body), nil
}

// ParseRobots interprets a robots.txt response.
func ParseRobots(status int, body []byte) Robots {
	out := Robots{Exists: status == 200}
	if !out.Exists {
		return out
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return out
	}
	out.Parsed = true
	out.Sitemaps = append([]string(nil), data.Sitemaps...)
	out.data = data
	return out
}
