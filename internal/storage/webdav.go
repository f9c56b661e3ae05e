package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

// WebDAV lists files from a WebDAV share via PROPFIND requests.
type WebDAV struct {
	baseURL    string
	username   string
	password   string
	basePath   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewWebDAV creates a WebDAV backend for the share at cfg.URL.
func NewWebDAV(cfg config.WebDAVConfig, logger zerolog.Logger) *WebDAV {
	return &WebDAV{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		basePath: strings.Trim(cfg.Path, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "storage").Str("backend", "webdav").Logger(),
	}
}

func (w *WebDAV) Kind() Kind { return KindWebDAV }

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:displayname/>
    <D:getcontentlength/>
    <D:getlastmodified/>
  </D:prop>
</D:propfind>`

// multistatus models the subset of the PROPFIND response we need.
type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string        `xml:"href"`
	Propstat []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Status string  `xml:"status"`
	Prop   davProp `xml:"prop"`
}

type davProp struct {
	DisplayName   string          `xml:"displayname"`
	ContentLength string          `xml:"getcontentlength"`
	LastModified  string          `xml:"getlastmodified"`
	ResourceType  davResourceType `xml:"resourcetype"`
}

type davResourceType struct {
	Collection *struct{} `xml:"collection"`
}

// List lists dir recursively with one Depth-1 PROPFIND per directory.
func (w *WebDAV) List(ctx context.Context, dir string) (*Listing, error) {
	return walk(ctx, dir, KindWebDAV, w.listDir)
}

func (w *WebDAV) listDir(ctx context.Context, dir string) ([]entry, error) {
	target := w.urlFor(dir)

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", target, strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create PROPFIND request: %w", err)
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdav request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webdav PROPFIND returned status %d", resp.StatusCode)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to decode PROPFIND response: %w", err)
	}

	selfPath := w.davPath(dir)
	entries := make([]entry, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		name, ok := w.entryName(r.Href, selfPath)
		if !ok {
			continue
		}

		prop, ok := okProp(r)
		if !ok {
			continue
		}

		size, _ := strconv.ParseInt(prop.ContentLength, 10, 64)
		entries = append(entries, entry{
			Name:    name,
			IsDir:   prop.ResourceType.Collection != nil,
			Size:    size,
			ModTime: parseDavTime(prop.LastModified),
		})
	}
	return entries, nil
}

// Exists probes dir with a Depth-0 PROPFIND.
func (w *WebDAV) Exists(ctx context.Context, dir string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", w.urlFor(dir), strings.NewReader(propfindBody))
	if err != nil {
		return false, err
	}
	req.Header.Set("Depth", "0")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusMultiStatus || resp.StatusCode == http.StatusOK, nil
}

// urlFor builds the request URL for a directory, escaping each segment.
func (w *WebDAV) urlFor(dir string) string {
	p := w.davPath(dir)
	if p == "" {
		return w.baseURL
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return w.baseURL + "/" + strings.Join(parts, "/")
}

// davPath is the unescaped share-relative path for dir.
func (w *WebDAV) davPath(dir string) string {
	return joinPath(w.basePath, dir)
}

// entryName extracts the child name from a response href. The server
// echoes the listed collection itself as one of the responses; that
// entry is dropped by comparing against the full request path.
func (w *WebDAV) entryName(href, selfPath string) (string, bool) {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		decoded = href
	}
	if u, err := url.Parse(decoded); err == nil && u.Path != "" {
		decoded = u.Path
	}
	decoded = strings.Trim(decoded, "/")
	if decoded == "" {
		return "", false
	}

	self := strings.Trim(w.mountPath()+"/"+selfPath, "/")
	if decoded == self || (self != "" && strings.HasSuffix("/"+decoded, "/"+self)) {
		return "", false
	}

	name := decoded[strings.LastIndex(decoded, "/")+1:]
	return name, name != ""
}

// mountPath is the path component of the configured base URL.
func (w *WebDAV) mountPath() string {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}

// okProp picks the propstat with a 200 status.
func okProp(r davResponse) (davProp, bool) {
	for _, ps := range r.Propstat {
		if strings.Contains(ps.Status, "200") {
			return ps.Prop, true
		}
	}
	if len(r.Propstat) > 0 {
		return r.Propstat[0].Prop, true
	}
	return davProp{}, false
}

func parseDavTime(s string) time.Time {
	for _, layout := range []string{http.TimeFormat, time.RFC1123Z, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
