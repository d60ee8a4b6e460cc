package data

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"
)

// DateLayout is how publication dates are persisted and serialized.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day or zone.
type Date struct {
	t time.Time
}

// NewDate returns the date y-m-d.
func NewDate(y int, m time.Month, d int) Date {
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) String() string     { return d.t.Format(DateLayout) }

// MarshalText also serves JSON and YAML encoding.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the date as ISO-8601 text.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	case time.Time:
		*d = DateOf(v)
		return nil
	case nil:
		*d = Date{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

// ContentFormat tells renderers how Content is marked up.
type ContentFormat string

const (
	FormatMarkdown ContentFormat = "markdown"
	FormatRich     ContentFormat = "rich"
)

func (f ContentFormat) Valid() bool {
	return f == FormatMarkdown || f == FormatRich
}

// Post is a content record together with its tags and metadata.
type Post struct {
	ID        int64         `db:"id" json:"id"`
	Title     string        `db:"title" json:"title"`
	Slug      string        `db:"slug" json:"slug"`
	Date      Date          `db:"date" json:"date"`
	Author    string        `db:"author" json:"author"`
	Excerpt   string        `db:"excerpt" json:"excerpt"`
	Content   string        `db:"content" json:"content"`
	Format    ContentFormat `db:"content_format" json:"format"`
	Published bool          `db:"published" json:"published"`
	Featured  bool          `db:"featured" json:"featured"`
	Image     *string       `db:"image" json:"image,omitempty"`
	AuthorID  *int64        `db:"author_id" json:"author_id,omitempty"`

	Tags     []Tag             `db:"-" json:"tags"`
	Metadata map[string]string `db:"-" json:"metadata"`

	// HTMLContent is filled by the service layer when rendering.
	HTMLContent string `db:"-" json:"html,omitempty"`
}

// Tag is a named category shared between posts.
type Tag struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Slug string `db:"slug" json:"slug"`
}

// FilterKind selects which posts ListPosts returns.
type FilterKind int

const (
	FilterAll FilterKind = iota
	FilterPublished
	FilterFeatured
	FilterTag
)

func (k FilterKind) String() string {
	switch k {
	case FilterAll:
		return "all"
	case FilterPublished:
		return "published"
	case FilterFeatured:
		return "featured"
	case FilterTag:
		return "tag"
	default:
		return fmt.Sprintf("FilterKind(%d)", int(k))
	}
}

// ParseFilterKind is the inverse of FilterKind.String. The empty string
// means all.
func ParseFilterKind(s string) (FilterKind, error) {
	switch s {
	case "", "all":
		return FilterAll, nil
	case "published":
		return FilterPublished, nil
	case "featured":
		return FilterFeatured, nil
	case "tag":
		return FilterTag, nil
	default:
		return 0, fmt.Errorf("unknown filter %q", s)
	}
}

// ListFilter narrows and pages ListPosts. A zero Limit means no limit.
// PublishedOnly drops drafts before paging, on top of Kind.
type ListFilter struct {
	Kind          FilterKind
	TagSlug       string
	Limit         int
	Offset        int
	PublishedOnly bool
}

// SearchHit is one ranked search result.
type SearchHit struct {
	PostID    int64   `db:"id" json:"post_id"`
	Slug      string  `db:"slug" json:"slug"`
	Title     string  `db:"title" json:"title"`
	Excerpt   string  `db:"excerpt" json:"excerpt"`
	Published bool    `db:"published" json:"published"`
	Rank      float64 `db:"rank" json:"rank"`
}

// IndexDrift describes a post whose search entry differs from it.
type IndexDrift struct {
	PostID int64  `json:"post_id"`
	Slug   string `json:"slug,omitempty"`
	Reason string `json:"reason"`
}

type actorKey struct{}

// WithActor attaches the identity performing writes so that the repository
// can log it.
func WithActor(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, actorKey{}, subject)
}

// ActorFrom returns the identity set by WithActor, or "system".
func ActorFrom(ctx context.Context) string {
	if subject, ok := ctx.Value(actorKey{}).(string); ok && subject != "" {
		return subject
	}
	return "system"
}
