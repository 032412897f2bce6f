package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

const (
	defaultImageTimeout  = 10 * time.Second
	defaultImageMaxBytes = 5 << 20
	defaultImageMIMEType = "image/jpeg"
	maxImageRedirects    = 3
)

// ErrImageHostNotAllowed is returned when a photo URL resolves to a loopback,
// private, link-local or otherwise non-public address.
var ErrImageHostNotAllowed = errors.New("triage: image host not allowed")

// sharedAddressSpace is the carrier-grade NAT range, which netip does not
// classify as private.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// InlineImage is an image ready to be embedded in a model request.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// ImageFetcher downloads photos for inline submission. Failures are never fatal.
// Only public addresses are dialled unless WithPrivateImageHosts is given.
type ImageFetcher struct {
	client       *http.Client
	maxBytes     int64
	allowPrivate bool
	logger       *logging.Logger
}

// ImageFetcherOption customises an ImageFetcher.
type ImageFetcherOption func(*ImageFetcher)

// WithPrivateImageHosts lets the fetcher reach loopback and private
// addresses, for local stacks where photos live on LocalStack or a dev host.
func WithPrivateImageHosts() ImageFetcherOption {
	return func(f *ImageFetcher) {
		f.allowPrivate = true
	}
}

// NewImageFetcher builds a fetcher with its own timeout and byte ceiling.
func NewImageFetcher(timeout time.Duration, maxBytes int64, logger *logging.Logger, opts ...ImageFetcherOption) *ImageFetcher {
	if timeout <= 0 {
		timeout = defaultImageTimeout
	}
	if maxBytes <= 0 {
		maxBytes = defaultImageMaxBytes
	}
	if logger == nil {
		logger = logging.Default()
	}
	f := &ImageFetcher{maxBytes: maxBytes, logger: logger}
	for _, opt := range opts {
		opt(f)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !f.allowPrivate {
		transport.Proxy = nil
		transport.DialContext = (&net.Dialer{Timeout: timeout, Control: publicAddressOnly}).DialContext
	}
	f.client = &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: checkImageRedirect,
	}
	return f
}

func checkImageRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxImageRedirects {
		return fmt.Errorf("triage: image stopped after %d redirects", maxImageRedirects)
	}
	return checkImageScheme(req.URL)
}

func checkImageScheme(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("triage: image scheme %q not supported", u.Scheme)
	}
}

// publicAddressOnly runs after DNS resolution, so it also covers redirects and
// names that resolve to internal addresses.
func publicAddressOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("triage: image dial address %q: %w", address, err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrImageHostNotAllowed, host)
	}
	if !isPublicAddr(ip) {
		return fmt.Errorf("%w: %s", ErrImageHostNotAllowed, ip)
	}
	return nil
}

func isPublicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() {
		return false
	}
	return !sharedAddressSpace.Contains(ip)
}

// Fetch returns the image or nil when it cannot be retrieved within limits.
func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string) *InlineImage {
	if f == nil || strings.TrimSpace(imageURL) == "" {
		return nil
	}
	img, err := f.fetch(ctx, imageURL)
	if err != nil {
		f.logger.Warn("image fetch failed, continuing without image", "error", err, "image_url", imageURL)
		return nil
	}
	return img
}

func (f *ImageFetcher) fetch(ctx context.Context, imageURL string) (*InlineImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("triage: build image request: %w", err)
	}
	if err := checkImageScheme(req.URL); err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("triage: image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("triage: image request returned %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("triage: image is %d bytes, limit %d", resp.ContentLength, f.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("triage: read image: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("triage: image exceeds %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("triage: image is empty")
	}
	return &InlineImage{MIMEType: imageMIMEType(imageURL, data), Data: data}, nil
}

// imageMIMEType infers the type from the URL extension, then the bytes.
func imageMIMEType(imageURL string, data []byte) string {
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	if mt, ok := imageExtensions[strings.ToLower(path.Ext(p))]; ok {
		return mt
	}
	if len(data) > 0 {
		if detected := mimetype.Detect(data); strings.HasPrefix(detected.String(), "image/") {
			return detected.String()
		}
	}
	return defaultImageMIMEType
}
