// Package content converts posts to and from markdown files with a YAML
// front matter block, and moves whole post sets between a directory and
// storage.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go-press/internal/data"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// ErrNoFrontMatter is returned by Decode when the file does not start with
// a front matter block.
var ErrNoFrontMatter = errors.New("content: missing front matter")

// frontMatter is the YAML header of an exported post. Content follows the
// closing delimiter.
type frontMatter struct {
	Title     string            `yaml:"title"`
	Slug      string            `yaml:"slug"`
	Date      data.Date         `yaml:"date"`
	Author    string            `yaml:"author,omitempty"`
	Excerpt   string            `yaml:"excerpt,omitempty"`
	Format    string            `yaml:"format"`
	Published bool              `yaml:"published"`
	Featured  bool              `yaml:"featured"`
	Image     *string           `yaml:"image,omitempty"`
	Tags      []tagEntry        `yaml:"tags,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
}

type tagEntry struct {
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

// Encode renders post as a markdown file: front matter, a blank line, then
// the content verbatim.
func Encode(post *data.Post) ([]byte, error) {
	fm := frontMatter{
		Title:     post.Title,
		Slug:      post.Slug,
		Date:      post.Date,
		Author:    post.Author,
		Excerpt:   post.Excerpt,
		Format:    string(post.Format),
		Published: post.Published,
		Featured:  post.Featured,
		Image:     post.Image,
		Metadata:  post.Metadata,
	}
	for _, tag := range post.Tags {
		fm.Tags = append(fm.Tags, tagEntry{Name: tag.Name, Slug: tag.Slug})
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("content: encode %q: %w", post.Slug, err)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	buf.Write(header)
	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(post.Content)
	return buf.Bytes(), nil
}

// Decode parses a file produced by Encode. The blank line after the closing
// delimiter is not part of the content.
func Decode(raw []byte) (*data.Post, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, ErrNoFrontMatter
	}
	rest := text[len(delimiter)+1:]

	var header, body string
	switch {
	case strings.HasPrefix(rest, delimiter+"\n"), rest == delimiter:
		header, body = "", strings.TrimPrefix(rest, delimiter)
	default:
		end := strings.Index(rest, "\n"+delimiter+"\n")
		if end < 0 {
			if !strings.HasSuffix(rest, "\n"+delimiter) {
				return nil, fmt.Errorf("%w: unterminated block", ErrNoFrontMatter)
			}
			end = len(rest) - len(delimiter) - 1
		}
		header = rest[:end+1]
		body = rest[end+1+len(delimiter):]
	}
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("content: front matter: %w", err)
	}

	post := &data.Post{
		Title:     fm.Title,
		Slug:      fm.Slug,
		Date:      fm.Date,
		Author:    fm.Author,
		Excerpt:   fm.Excerpt,
		Content:   body,
		Format:    data.ContentFormat(fm.Format),
		Published: fm.Published,
		Featured:  fm.Featured,
		Image:     fm.Image,
		Metadata:  fm.Metadata,
	}
	for _, tag := range fm.Tags {
		post.Tags = append(post.Tags, data.Tag{Name: tag.Name, Slug: tag.Slug})
	}
	return post, nil
}
