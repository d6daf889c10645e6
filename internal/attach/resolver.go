package attach

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"molva/internal/models"

	"github.com/c-pro/geche"
	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	ErrTooLarge        = errors.New("attachment exceeds the size limit")
	ErrUnsupportedType = errors.New("attachment type is not allowed")

	policy = bluemonday.UGCPolicy()
)

// DefaultMaxSize is the attachment size ceiling (5 MB).
const DefaultMaxSize = 5 << 20

type contentFetcher interface {
	FetchContent(ctx context.Context, url string) ([]byte, error)
}

// Preview is what the conversation view embeds for one attachment. At most
// one of HTML and URL is set; both empty means the name and icon are all
// there is to show.
type Preview struct {
	Kind Kind
	HTML string
	URL  string
}

// Resolver converts local selections to a transmittable encoding on send
// and resolves remote attachment content for preview on demand. Preview
// results are cached per message id and attachment index for the lifetime
// of the conversation view.
type Resolver struct {
	maxSize  int64
	fetcher  contentFetcher
	markdown goldmark.Markdown

	mu    sync.Mutex
	cache geche.Geche[string, Preview]
}

func NewResolver(fetcher contentFetcher, maxSize int64) *Resolver {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Resolver{
		maxSize:  maxSize,
		fetcher:  fetcher,
		markdown: goldmark.New(),
		cache:    geche.NewMapCache[string, Preview](),
	}
}

// EncodeForSend reads a local file fully into memory and produces the
// transmittable base64 encoding with the original name and MIME type. The
// size ceiling and the type allow-list are checked synchronously before
// the payload is built; a rejected file never reaches the optimistic-send
// path.
func (r *Resolver) EncodeForSend(path string) (models.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}
	if info.Size() > r.maxSize {
		return models.Attachment{}, fmt.Errorf("%s is %d bytes: %w", filepath.Base(path), info.Size(), ErrTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}

	return r.Encode(filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data)
}

// Encode validates and encodes an in-memory selection. When mimeType is
// empty the content is sniffed.
func (r *Resolver) Encode(name, mimeType string, data []byte) (models.Attachment, error) {
	if int64(len(data)) > r.maxSize {
		return models.Attachment{}, fmt.Errorf("%s is %d bytes: %w", name, len(data), ErrTooLarge)
	}

	if mimeType == "" {
		if t, err := filetype.Match(data); err == nil && t != filetype.Unknown {
			mimeType = t.MIME.Value
		}
	}
	if !Sendable(mimeType) {
		return models.Attachment{}, fmt.Errorf("%s (%s): %w", name, mimeType, ErrUnsupportedType)
	}

	return models.Attachment{
		Name:     name,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// ResolveForPreview produces the embeddable preview for a stored
// attachment: sanitized markup for plain text and rich documents, the
// locator itself for directly embeddable types, nothing for the rest.
// msgID and index key the cache; two same-named files on different
// messages never collide.
func (r *Resolver) ResolveForPreview(ctx context.Context, msgID string, index int, att models.Attachment) (Preview, error) {
	key := msgID + "/" + strconv.Itoa(index)

	r.mu.Lock()
	cached, err := r.cache.Get(key)
	r.mu.Unlock()
	if err == nil {
		return cached, nil
	}

	kind := Classify(att.MimeType)
	preview := Preview{Kind: kind}

	switch kind {
	case KindPlainText:
		raw, err := r.fetcher.FetchContent(ctx, att.URL)
		if err != nil {
			return Preview{}, fmt.Errorf("failed to fetch %s: %w", att.Name, err)
		}
		var buf bytes.Buffer
		if err := r.markdown.Convert(raw, &buf); err != nil {
			return Preview{}, fmt.Errorf("failed to render %s: %w", att.Name, err)
		}
		preview.HTML = policy.Sanitize(buf.String())

	case KindRichDocument:
		raw, err := r.fetcher.FetchContent(ctx, att.URL)
		if err != nil {
			return Preview{}, fmt.Errorf("failed to fetch %s: %w", att.Name, err)
		}
		html, err := docxToHTML(raw)
		if err != nil {
			return Preview{}, fmt.Errorf("failed to convert %s: %w", att.Name, err)
		}
		preview.HTML = policy.Sanitize(html)

	case KindImage, KindVideo, KindAudio, KindPDF:
		// Embeddable directly by locator, no fetch needed.
		preview.URL = att.URL
	}

	r.mu.Lock()
	r.cache.Set(key, preview)
	r.mu.Unlock()
	return preview, nil
}

// InvalidateCache drops every cached preview. Called when the active peer
// changes.
func (r *Resolver) InvalidateCache() {
	r.mu.Lock()
	r.cache = geche.NewMapCache[string, Preview]()
	r.mu.Unlock()
}
