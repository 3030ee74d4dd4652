package http

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
)

// PaginatedResponse wraps list results with pagination metadata.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination is keyset based: results run newest first by (captured_at, id)
// and the next page starts strictly after the last row of this one.
type Pagination struct {
	Limit      int    `json:"limit"`
	Count      int    `json:"count"`
	NextCursor string `json:"next_cursor,omitempty"`
}

var errBadCursor = errors.New("malformed cursor")

// encodeCursor makes an opaque cursor positioned on b.
func encodeCursor(b domain.Breadcrumb) string {
	raw := b.CapturedAt.UTC().Format(time.RFC3339Nano) + "|" + b.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (*ports.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errBadCursor
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, errBadCursor
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, errBadCursor
	}
	return &ports.Cursor{CapturedAt: at, ID: id}, nil
}

// SetLinkHeaders adds RFC 8288 Link headers for a keyset page.
func SetLinkHeaders(c *fiber.Ctx, p Pagination, from, to *time.Time) {
	base := c.Path()
	q := url.Values{}
	q.Set("limit", fmt.Sprint(p.Limit))
	if from != nil {
		q.Set("from", from.UTC().Format(time.RFC3339Nano))
	}
	if to != nil {
		q.Set("to", to.UTC().Format(time.RFC3339Nano))
	}

	links := []string{fmt.Sprintf(`<%s?%s>; rel="first"`, base, q.Encode())}
	if p.NextCursor != "" {
		q.Set("cursor", p.NextCursor)
		links = append(links, fmt.Sprintf(`<%s?%s>; rel="next"`, base, q.Encode()))
	}
	c.Set("Link", strings.Join(links, ", "))
}
