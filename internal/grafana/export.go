package grafana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ExportOptions controls dashboard export.
type ExportOptions struct {
	// OutDir is the directory JSON files are written to.
	OutDir string
	// Overwrite replaces existing files; otherwise they are skipped.
	Overwrite bool
	// Limit caps the dashboard search (5000 when zero).
	Limit int
}

// searchHit is one entry of the /api/search response.
type searchHit struct {
	UID   string `json:"uid"`
	Title string `json:"title"`
}

// dashboardPayload is the /api/dashboards/uid/<uid> response.
type dashboardPayload struct {
	Dashboard json.RawMessage `json:"dashboard"`
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify normalizes a dashboard title into a filename-safe slug: lower case,
// runs of non-alphanumerics collapsed to underscores, with "dashboard" as the
// fallback for empty results.
func Slugify(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = slugPattern.ReplaceAllString(v, "_")
	v = strings.Trim(v, "_")
	if v == "" {
		return "dashboard"
	}
	return v
}

// ExportDashboards fetches every dashboard of the current org and writes one
// JSON file per dashboard to the output directory, named
// <slug(title)>__<uid>.json. Instance-specific id and version fields are
// stripped so the output is suitable for file provisioning. Existing files
// are left untouched unless Overwrite is set. Returns the number of files
// written.
func (c *Client) ExportDashboards(ctx context.Context, opts ExportOptions) (int, error) {
	if opts.OutDir == "" {
		return 0, fmt.Errorf("output directory is empty")
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return 0, fmt.Errorf("create output directory %q: %w", opts.OutDir, err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 5000
	}
	params := url.Values{}
	params.Set("type", "dash-db")
	params.Set("limit", strconv.Itoa(limit))

	var hits []searchHit
	if err := c.get(ctx, "api/search", requestOptions{params: params}, &hits); err != nil {
		return 0, fmt.Errorf("search dashboards: %w", err)
	}

	count := 0
	for _, hit := range hits {
		if hit.UID == "" {
			continue
		}

		var payload dashboardPayload
		if err := c.get(ctx, "api/dashboards/uid/"+url.PathEscape(hit.UID), requestOptions{}, &payload); err != nil {
			return count, fmt.Errorf("fetch dashboard %q: %w", hit.UID, err)
		}

		var dashboard map[string]any
		if err := json.Unmarshal(payload.Dashboard, &dashboard); err != nil || dashboard == nil {
			continue
		}
		delete(dashboard, "id")
		delete(dashboard, "version")

		title := hit.Title
		if title == "" {
			title = hit.UID
		}
		filename := fmt.Sprintf("%s__%s.json", Slugify(title), hit.UID)
		path := filepath.Join(opts.OutDir, filename)

		if !opts.Overwrite {
			if _, err := os.Stat(path); err == nil {
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return count, fmt.Errorf("stat %q: %w", path, err)
			}
		}

		raw, err := json.MarshalIndent(dashboard, "", "  ")
		if err != nil {
			return count, fmt.Errorf("encode dashboard %q: %w", hit.UID, err)
		}
		if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
			return count, fmt.Errorf("write %q: %w", path, err)
		}

		if c.logger != nil {
			c.logger.Debug("exported dashboard", "uid", hit.UID, "file", filename)
		}
		count++
	}
	return count, nil
}
