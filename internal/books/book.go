// Package books provides the in-memory book catalogue served by shelfd.
package books

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no book has the requested ID.
	ErrNotFound = errors.New("book not found")

	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid book")
)

const (
	maxTitleLen  = 256
	maxAuthorLen = 128
)

// Book is a catalogue entry.
type Book struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Year   int    `json:"year,omitempty"`
}

// Validate checks the fields a client may set. The ID is assigned by the
// store and is ignored.
func (b Book) Validate() error {
	title := strings.TrimSpace(b.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len(title) > maxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalid, maxTitleLen)
	}
	if len(b.Author) > maxAuthorLen {
		return fmt.Errorf("%w: author exceeds %d characters", ErrInvalid, maxAuthorLen)
	}
	if b.Year < 0 || b.Year > time.Now().Year()+1 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalid, b.Year)
	}
	return nil
}

// Patch holds a partial update. Nil fields are left unchanged.
type Patch struct {
	Title  *string `json:"title,omitempty"`
	Author *string `json:"author,omitempty"`
	Year   *int    `json:"year,omitempty"`
}

// apply returns b with the patch's non-nil fields applied.
func (p Patch) apply(b Book) Book {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Year != nil {
		b.Year = *p.Year
	}
	return b
}
