// Package knowledge loads host-declared knowledge sources (files,
// directories, URLs) and answers retrieval queries with the most relevant
// snippets. The agent core treats this as a best-effort collaborator; the
// retrieval algorithm itself is intentionally simple.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// maxDocumentBytes caps how much of one source is kept.
	maxDocumentBytes = 10000

	defaultMaxResults = 5
)

// Document is one loaded knowledge source.
type Document struct {
	Source  string
	Content string
}

// Manager loads sources once and serves retrieval queries over them.
// Loading is not concurrency-safe; Retrieve is, once loading is done.
type Manager struct {
	httpClient *http.Client
	docs       []Document
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadSources loads each source. A source that fails to load is skipped and
// reported in the returned error list; loading continues regardless, since
// partial knowledge beats none.
func (m *Manager) LoadSources(ctx context.Context, sources []string) error {
	var errs []error
	for _, src := range sources {
		if err := m.loadSource(ctx, src); err != nil {
			errs = append(errs, fmt.Errorf("knowledge: load %q: %w", src, err))
		}
	}
	return errors.Join(errs...)
}

// Documents returns the loaded documents.
func (m *Manager) Documents() []Document {
	return m.docs
}

func (m *Manager) loadSource(ctx context.Context, source string) error {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return m.loadURL(ctx, source)
	}

	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return m.loadDir(source)
	}
	return m.loadFile(source)
}

func (m *Manager) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	buf, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes))
	if err != nil {
		return err
	}
	m.docs = append(m.docs, Document{Source: path, Content: string(buf)})
	return nil
}

func (m *Manager) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isTextFile(e.Name()) {
			continue
		}
		if err := m.loadFile(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) loadURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, maxDocumentBytes))
	if err != nil {
		return err
	}
	m.docs = append(m.docs, Document{Source: url, Content: string(buf)})
	return nil
}

func isTextFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Retrieve returns the contents of up to maxResults documents ranked by
// word overlap with the query, joined with source markers. An empty string
// means nothing relevant was loaded.
func (m *Manager) Retrieve(_ context.Context, query string, maxResults int) (string, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	queryWords := tokenize(query)
	if len(queryWords) == 0 || len(m.docs) == 0 {
		return "", nil
	}

	type scored struct {
		doc   Document
		score int
	}
	var ranked []scored
	for _, doc := range m.docs {
		s := overlap(queryWords, tokenize(doc.Content))
		if s > 0 {
			ranked = append(ranked, scored{doc: doc, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	var parts []string
	for _, r := range ranked {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", r.doc.Source, strings.TrimSpace(r.doc.Content)))
	}
	return strings.Join(parts, "\n\n"), nil
}

func tokenize(s string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 2 {
			words[w] = struct{}{}
		}
	}
	return words
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
