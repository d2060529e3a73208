// Package assetmgr owns the enrichment registry reference and the
// background task that periodically re-fetches the remote files an
// enrichment chain depends on, swapping the registry in atomically once a
// refresh succeeds (§4.3).
package assetmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nplex/streamenrich/internal/decoder"
	"github.com/nplex/streamenrich/internal/enrich"
	"github.com/nplex/streamenrich/internal/errorreporter"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/metrics"
)

// PauseSignal is the pause/drain/resume handle the Manager asserts
// around a coherent registry swap (§4.3). The pipeline runtime's Gate
// satisfies this.
type PauseSignal interface {
	Pause()
	Resume()
}

// Fetcher downloads a single asset identified by uri to a local file and
// returns its path plus a content hash, used to detect whether a refresh
// actually changed anything. Implementations are chosen by URI scheme
// (s3://, gs://).
type Fetcher interface {
	Fetch(ctx context.Context, uri, destDir string) (localPath, hash string, err error)
}

// Config configures the Manager.
type Config struct {
	UpdatePeriod time.Duration `yaml:"assets_update_period"`
	BaseDir      string        `yaml:"base_dir"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

func (c Config) withDefaults() Config {
	if c.UpdatePeriod <= 0 {
		c.UpdatePeriod = 7 * 24 * time.Hour
	}
	if c.BaseDir == "" {
		c.BaseDir = os.TempDir()
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// assetState records the currently-installed local path and content hash
// for one (enrichment-name, asset-URI) pair.
type assetState struct {
	localPath string
	hash      string
}

// Manager owns the registry reference shared with the enrich stage and
// runs the periodic refresh loop described in §4.3.
type Manager struct {
	cfg         Config
	enrichments []decoder.Enrichment
	fetchers    map[string]Fetcher // URI scheme -> Fetcher
	gate        PauseSignal
	holder      *enrich.Holder
	log         log.Modular
	metrics     *metrics.Pipeline
	exceptions  errorreporter.Reporter

	state map[string]assetState // AssetPathKey -> current state

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Manager. InitialLoad must be called before the enrich
// pipeline starts; its failure is fatal per §4.3.
func New(
	cfg Config,
	enrichments []decoder.Enrichment,
	fetchers map[string]Fetcher,
	gate PauseSignal,
	holder *enrich.Holder,
	logger log.Modular,
	m *metrics.Pipeline,
	exceptions errorreporter.Reporter,
) *Manager {
	return &Manager{
		cfg:         cfg.withDefaults(),
		enrichments: enrichments,
		fetchers:    fetchers,
		gate:        gate,
		holder:      holder,
		log:         logger,
		metrics:     m,
		exceptions:  exceptions,
		state:       make(map[string]assetState),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// InitialLoad fetches every configured asset once and installs the first
// registry snapshot. Any failure aborts startup.
func (m *Manager) InitialLoad(ctx context.Context) error {
	assetPaths := make(map[string]string)
	for _, e := range m.enrichments {
		for _, uri := range e.AssetURIs() {
			path, hash, err := m.fetchOne(ctx, uri)
			if err != nil {
				return fmt.Errorf("initial asset load failed for %s (%s): %w", e.Name(), uri, err)
			}
			key := enrich.AssetPathKey(e.Name(), uri)
			assetPaths[key] = path
			m.state[key] = assetState{localPath: path, hash: hash}
		}
	}
	m.holder.Swap(enrich.NewRegistry(m.enrichments, assetPaths))
	return nil
}

// Run starts the periodic refresh loop. It blocks until ctx is cancelled
// or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.UpdatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.refresh(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the refresh loop to exit and waits for it to do so.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// refresh performs one coherent-swap cycle per §4.3. Any fetch failure
// abandons the whole cycle, leaving the previous registry installed.
func (m *Manager) refresh(ctx context.Context) {
	type fetched struct {
		key, path, hash string
		enrichmentName  string
	}

	var results []fetched
	for _, e := range m.enrichments {
		for _, uri := range e.AssetURIs() {
			path, hash, err := m.fetchOne(ctx, uri)
			if err != nil {
				m.log.Warnf("asset refresh abandoned: failed to fetch %s for %s: %v", uri, e.Name(), err)
				m.metrics.AssetFailures.Incr(1)
				m.exceptions.Report(ctx, errorreporter.Exception{
					Component: "assetmgr",
					Message:   "asset refresh fetch failed",
					Err:       err,
					Tags:      map[string]string{"enrichment": e.Name(), "uri": uri},
				})
				return
			}
			results = append(results, fetched{
				key:            enrich.AssetPathKey(e.Name(), uri),
				path:           path,
				hash:           hash,
				enrichmentName: e.Name(),
			})
		}
	}

	changed := false
	for _, r := range results {
		if prev, ok := m.state[r.key]; !ok || prev.hash != r.hash {
			changed = true
			break
		}
	}
	if !changed {
		return
	}

	m.gate.Pause()
	defer m.gate.Resume()

	newAssetPaths := make(map[string]string, len(results))
	obsolete := make([]string, 0, len(results))
	for _, r := range results {
		newAssetPaths[r.key] = r.path
		if prev, ok := m.state[r.key]; ok && prev.localPath != r.path {
			obsolete = append(obsolete, prev.localPath)
		}
		m.state[r.key] = assetState{localPath: r.path, hash: r.hash}
	}

	m.holder.Swap(enrich.NewRegistry(m.enrichments, newAssetPaths))
	m.metrics.AssetRefresh.Incr(1)

	for _, p := range obsolete {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			m.log.Warnf("failed to delete obsolete asset %s: %v", p, err)
		}
	}
}

func (m *Manager) fetchOne(ctx context.Context, uri string) (path, hash string, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	scheme := uriScheme(uri)
	fetcher, ok := m.fetchers[scheme]
	if !ok {
		return "", "", fmt.Errorf("no fetcher registered for scheme %q", scheme)
	}
	return fetcher.Fetch(fetchCtx, uri, m.cfg.BaseDir)
}

func uriScheme(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i]
	}
	return ""
}

// hashFile computes a hex-encoded sha256 of a local file, used by Fetcher
// implementations to report a content hash alongside the downloaded path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// destPath builds a deterministic local filename for an asset URI under
// the manager's base directory.
func destPath(baseDir, uri string) string {
	sum := sha256.Sum256([]byte(uri))
	name := hex.EncodeToString(sum[:8]) + filepath.Ext(uri)
	return filepath.Join(baseDir, name)
}
