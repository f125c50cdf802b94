package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
	"github.com/andresuchdata/dwd-exporter/pkg/logger"
)

// HubConfig encapsulates the connection info for a Hugging Face dataset repository.
type HubConfig struct {
	Endpoint   string
	RepoID     string
	Revision   string
	Token      string
	PathPrefix string
	Suffix     string
	Timeout    time.Duration
	DownloadTo string

	// StartDate/EndDate select data/YYYY/M/D folders. A zero StartDate lists
	// everything under PathPrefix.
	StartDate time.Time
	EndDate   time.Time
}

// HubClient lists and downloads files of one dataset repository.
type HubClient struct {
	cfg  HubConfig
	http *http.Client
	log  zerolog.Logger
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// NewHubClient builds a HubClient. When a token is configured every request
// carries it as a bearer token.
func NewHubClient(cfg HubConfig) (*HubClient, error) {
	if cfg.RepoID == "" {
		return nil, fmt.Errorf("%w: dataset repo id must be provided", domain.ErrConfig)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://huggingface.co"
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.Revision == "" {
		cfg.Revision = "main"
	}
	cfg.PathPrefix = strings.Trim(cfg.PathPrefix, "/")
	if cfg.DownloadTo == "" {
		cfg.DownloadTo = "./data"
	}

	client := &http.Client{}
	if strings.TrimSpace(cfg.Token) != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		client = oauth2.NewClient(context.Background(), ts)
	}
	client.Timeout = cfg.Timeout

	return &HubClient{
		cfg:  cfg,
		http: client,
		log:  logger.Component("source"),
	}, nil
}

// ListSources enumerates the dataset files to export, ordered by snapshot
// date and path. Any failure to read the listing is fatal for the run and
// wraps domain.ErrSourceUnavailable; a day folder that does not exist is
// simply empty.
func (c *HubClient) ListSources(ctx context.Context) ([]domain.SourceRef, error) {
	if c.cfg.StartDate.IsZero() {
		refs, err := c.listFolder(ctx, c.cfg.PathPrefix, true)
		if err != nil {
			return nil, err
		}
		sortRefs(refs)
		return refs, nil
	}

	end := c.cfg.EndDate
	if end.IsZero() {
		end = c.cfg.StartDate
	}

	var refs []domain.SourceRef
	for date := c.cfg.StartDate; !date.After(end); date = date.AddDate(0, 0, 1) {
		folder := dayFolder(c.cfg.PathPrefix, date)
		dayRefs, err := c.listFolder(ctx, folder, false)
		if errors.Is(err, errFolderNotFound) {
			c.log.Warn().Str("folder", folder).Msg("no files found for this date")
			continue
		}
		if err != nil {
			return nil, err
		}
		sortRefs(dayRefs)
		c.log.Info().Str("folder", folder).Int("files", len(dayRefs)).Msg("listed source folder")
		refs = append(refs, dayRefs...)
	}
	return refs, nil
}

// dayFolder follows the dataset layout, which does not zero pad month and day.
func dayFolder(prefix string, date time.Time) string {
	folder := fmt.Sprintf("%d/%d/%d", date.Year(), int(date.Month()), date.Day())
	if prefix == "" {
		return folder
	}
	return prefix + "/" + folder
}

var errFolderNotFound = errors.New("folder not found")

func (c *HubClient) listFolder(ctx context.Context, folder string, recursive bool) ([]domain.SourceRef, error) {
	next := c.treeURL(folder, recursive)

	var refs []domain.SourceRef
	for next != "" {
		entries, link, err := c.fetchTreePage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type != "file" {
				continue
			}
			if c.cfg.Suffix != "" && !strings.HasSuffix(e.Path, c.cfg.Suffix) {
				continue
			}
			refs = append(refs, domain.SourceRef{Path: e.Path, Size: e.Size})
		}
		next = link
	}
	return refs, nil
}

func (c *HubClient) treeURL(folder string, recursive bool) string {
	u := fmt.Sprintf("%s/api/datasets/%s/tree/%s", c.cfg.Endpoint, c.cfg.RepoID, url.PathEscape(c.cfg.Revision))
	if folder != "" {
		u += "/" + escapePath(folder)
	}
	if recursive {
		u += "?recursive=true"
	}
	return u
}

func (c *HubClient) fetchTreePage(ctx context.Context, pageURL string) ([]treeEntry, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build listing request: %v", domain.ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: list %s: %v", domain.ErrSourceUnavailable, pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, "", errFolderNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("%w: list %s: status %d: %s",
			domain.ErrSourceUnavailable, pageURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, "", fmt.Errorf("%w: decode listing %s: %v", domain.ErrSourceUnavailable, pageURL, err)
	}

	return entries, nextLink(resp.Header.Get("Link")), nil
}

var linkNext = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		if m := linkNext.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}

func sortRefs(refs []domain.SourceRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		di, oki := refs[i].Date()
		dj, okj := refs[j].Date()
		if oki && okj && !di.Equal(dj) {
			return di.Before(dj)
		}
		return refs[i].Path < refs[j].Path
	})
}

// Download fetches the full content of ref into the download directory. The
// file only appears under its final name once the body has been read
// completely; on failure nothing is left behind.
func (c *HubClient) Download(ctx context.Context, ref domain.SourceRef) (domain.LocalPayload, error) {
	finalPath := filepath.Join(c.cfg.DownloadTo, filepath.FromSlash(localRelPath(ref.Path)))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return domain.LocalPayload{}, fmt.Errorf("%w: prepare directory for %s: %v", domain.ErrDownload, finalPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(ref.Path), nil)
	if err != nil {
		return domain.LocalPayload{}, fmt.Errorf("%w: build request for %s: %v", domain.ErrDownload, ref.Path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.LocalPayload{}, fmt.Errorf("%w: get %s: %v", domain.ErrDownload, ref.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.LocalPayload{}, fmt.Errorf("%w: get %s: status %d", domain.ErrDownload, ref.Path, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), "."+filepath.Base(finalPath)+".part-*")
	if err != nil {
		return domain.LocalPayload{}, fmt.Errorf("%w: create temp file for %s: %v", domain.ErrDownload, ref.Path, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	written, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return domain.LocalPayload{}, fmt.Errorf("%w: read body of %s: %v", domain.ErrDownload, ref.Path, copyErr)
	}
	if closeErr != nil {
		return domain.LocalPayload{}, fmt.Errorf("%w: write %s: %v", domain.ErrDownload, tmpPath, closeErr)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return domain.LocalPayload{}, fmt.Errorf("%w: short body for %s: got %d of %d bytes",
			domain.ErrDownload, ref.Path, written, resp.ContentLength)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return domain.LocalPayload{}, fmt.Errorf("%w: finalize %s: %v", domain.ErrDownload, finalPath, err)
	}
	committed = true

	return domain.LocalPayload{Ref: ref, Path: finalPath, Size: written}, nil
}

func (c *HubClient) resolveURL(filePath string) string {
	return fmt.Sprintf("%s/datasets/%s/resolve/%s/%s",
		c.cfg.Endpoint, c.cfg.RepoID, url.PathEscape(c.cfg.Revision), escapePath(filePath))
}

// localRelPath keeps the dataset folder layout below the download directory.
// Cleaning against "/" keeps ".." segments from escaping it.
func localRelPath(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
