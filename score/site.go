// Package score drives the score-editing site: it uploads scores, sends editing
// commands, downloads exports, and renders every score the site returns through
// the render workers.
//
// The site keeps one score per anonymous session, identified by the sessionUUID
// cookie it sets on GET /. Site stores the cookie in a jar so every later request
// edits the same score.
package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"score-render/logging"
)

// SessionCookie is the cookie naming the site session.
const SessionCookie = "sessionUUID"

// maxDownloadBytes caps exports read into memory.
const maxDownloadBytes = 64 << 20

// Format is a download format of the site.
type Format string

const (
	FormatMEI      Format = "mei"
	FormatMusicXML Format = "musicxml"
	FormatHumdrum  Format = "humdrum"
)

// Formats lists the download formats.
var Formats = []Format{FormatMEI, FormatMusicXML, FormatHumdrum}

// Extension is the file extension the site uses for f.
func (f Format) Extension() string {
	switch f {
	case FormatMusicXML:
		return ".musicxml"
	case FormatHumdrum:
		return ".krn"
	}
	return ".mei"
}

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(name) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q: want mei, musicxml or humdrum", name)
}

// Response is the JSON body of POST /score and POST /command.
type Response struct {
	MEI             string `json:"mei,omitempty"`
	AppendToConsole string `json:"appendToConsole,omitempty"`
}

// SiteError is an application error reported by the site through appendToConsole.
type SiteError struct {
	Op      string
	Message string
}

func (e *SiteError) Error() string {
	return e.Op + ": " + e.Message
}

// Site is an HTTP client bound to one site session.
type Site struct {
	base   *url.URL
	client *http.Client
	jar    http.CookieJar
	logger *log.Logger
}

// SiteOption configures a Site.
type SiteOption func(*Site)

// WithHTTPClient replaces the HTTP client. Its cookie jar is replaced by the site's.
func WithHTTPClient(c *http.Client) SiteOption {
	return func(s *Site) { s.client = c }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) SiteOption {
	return func(s *Site) { s.client.Timeout = d }
}

// WithSiteLogger sets the logger.
func WithSiteLogger(l *log.Logger) SiteOption {
	return func(s *Site) { s.logger = l }
}

// NewSite creates a client for the site at baseURL with an empty session.
func NewSite(baseURL string, opts ...SiteOption) (*Site, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("site url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("site url %q is not absolute", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &Site{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
		jar:    jar,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client.Jar = jar
	return s, nil
}

// Bootstrap opens the site session (GET /) and returns its id.
func (s *Site) Bootstrap(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/"), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bootstrap: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bootstrap: unexpected status %s", resp.Status)
	}

	id := s.SessionID()
	if id == "" {
		return "", fmt.Errorf("bootstrap: site did not set the %s cookie", SessionCookie)
	}
	s.logger.Debug("site session", "id", id)
	return id, nil
}

// SessionID returns the current session id, or "" before Bootstrap.
func (s *Site) SessionID() string {
	for _, c := range s.jar.Cookies(s.base) {
		if c.Name == SessionCookie {
			return c.Value
		}
	}
	return ""
}

// SetSession resumes an existing site session instead of calling Bootstrap.
func (s *Site) SetSession(id string) {
	s.jar.SetCookies(s.base, []*http.Cookie{{Name: SessionCookie, Value: id, Path: "/"}})
}

// Upload sends a score file (MEI, MusicXML, Humdrum...) and returns the session's
// score as MEI. filename tells the site which format the data is in.
func (s *Site) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.WriteField("filename", filename); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/score"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, "upload "+filename)
}

// Command validates cmd, applies it to the session's score, and returns the
// edited score as MEI.
func (s *Site) Command(ctx context.Context, cmd Command) (string, error) {
	values, err := cmd.Form()
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/command"), strings.NewReader(values.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req, cmd.Name())
}

// Download exports the session's score in format f.
func (s *Site) Download(ctx context.Context, f Format) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/"+string(f)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %s", f, resp.Status)
	}
	// Errors come back as a JSON object instead of the file
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var r Response
		if json.Unmarshal(data, &r) == nil && r.AppendToConsole != "" {
			return nil, &SiteError{Op: "download " + string(f), Message: r.AppendToConsole}
		}
	}
	return data, nil
}

func (s *Site) do(req *http.Request, op string) (string, error) {
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	s.logger.Debug("site request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: unexpected status %s", op, resp.Status)
	}
	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}
	if r.AppendToConsole != "" && r.MEI == "" {
		return "", &SiteError{Op: op, Message: r.AppendToConsole}
	}
	return r.MEI, nil
}

func (s *Site) endpoint(path string) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}
