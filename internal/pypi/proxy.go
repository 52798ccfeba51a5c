package pypi

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"

	"github.com/brooklyn-data/dbtenv/internal/log"
)

// ReleaseDateProxy is a local PEP 503 simple-index proxy that hides files
// uploaded after a cutoff date. Pointing pip's --index-url at it reproduces
// what was installable when a given dbt version was released.
type ReleaseDateProxy struct {
	index    *Index
	cutoff   string // YYYY-MM-DD, inclusive
	upstream string
	server   *http.Server
	addr     string
}

var (
	simplePathPattern = regexp.MustCompile(`^/simple/([^/]+)`)
	fileLinkPattern   = regexp.MustCompile(`<a href=[^>]+>([^<]+)</a>`)
)

// StartReleaseDateProxy starts the proxy on an ephemeral localhost port.
// Callers must Close it when the install finishes.
func StartReleaseDateProxy(index *Index, cutoff string) (*ReleaseDateProxy, error) {
	upstream := index.BaseURL
	if upstream == "" {
		upstream = defaultBaseURL
	}
	proxy := &ReleaseDateProxy{index: index, cutoff: cutoff, upstream: upstream}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting release date proxy: %w", err)
	}
	proxy.addr = listener.Addr().String()
	proxy.server = &http.Server{Handler: http.HandlerFunc(proxy.handle)}
	go func() {
		if err := proxy.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Debug("release date proxy stopped", "error", err)
		}
	}()
	return proxy, nil
}

// IndexURL returns the --index-url value to hand to pip.
func (p *ReleaseDateProxy) IndexURL() string {
	return fmt.Sprintf("http://%s/simple", p.addr)
}

// Close shuts the proxy down.
func (p *ReleaseDateProxy) Close() error {
	return p.server.Close()
}

func (p *ReleaseDateProxy) handle(w http.ResponseWriter, r *http.Request) {
	log.Debug("handling package index request", "path", r.URL.Path)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, p.upstream+r.URL.Path, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	for _, header := range []string{"User-Agent", "Accept", "Cache-Control"} {
		if value := r.Header.Get(header); value != "" {
			req.Header.Set(header, value)
		}
	}

	client := p.index.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	pkgMatch := simplePathPattern.FindStringSubmatch(r.URL.Path)
	if resp.StatusCode != http.StatusOK || pkgMatch == nil {
		copyHeaders(w, resp, len(body))
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		return
	}

	excluded, err := p.excludedFiles(r, pkgMatch[1])
	if err != nil {
		// Better to serve the unfiltered listing than to fail the install.
		log.Warn("could not filter package listing by release date", "package", pkgMatch[1], "error", err)
		copyHeaders(w, resp, len(body))
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		return
	}

	removed := 0
	filtered := fileLinkPattern.ReplaceAllFunc(body, func(link []byte) []byte {
		name := fileLinkPattern.FindSubmatch(link)[1]
		if excluded[string(name)] {
			removed++
			return nil
		}
		return link
	})
	log.Debug("filtered package listing", "package", pkgMatch[1], "cutoff", p.cutoff, "removed", removed)

	copyHeaders(w, resp, len(filtered))
	w.WriteHeader(resp.StatusCode)
	w.Write(filtered)
}

// excludedFiles returns the filenames of the package's files uploaded
// after the cutoff date.
func (p *ReleaseDateProxy) excludedFiles(r *http.Request, pkg string) (map[string]bool, error) {
	meta, err := p.index.fetchMetadata(r.Context(), pkg)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool)
	for _, files := range meta.Releases {
		for _, file := range files {
			if len(file.UploadTime) >= 10 && file.UploadTime[:10] > p.cutoff {
				excluded[file.Filename] = true
			}
		}
	}
	return excluded, nil
}

func copyHeaders(w http.ResponseWriter, resp *http.Response, contentLength int) {
	for header, values := range resp.Header {
		if header == "Content-Length" {
			continue
		}
		for _, value := range values {
			w.Header().Add(header, value)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(contentLength))
}
