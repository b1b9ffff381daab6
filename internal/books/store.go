package books

import (
	"slices"
	"sync"
)

// Store keeps books in memory, ordered by creation. IDs start at 1 and are
// never reused.
type Store struct {
	mu     sync.RWMutex
	books  []Book
	nextID int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{nextID: 1}
}

// Create assigns the next ID to b and stores it.
func (s *Store) Create(b Book) Book {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.ID = s.nextID
	s.nextID++
	s.books = append(s.books, b)
	return b
}

// List returns a copy of every stored book.
func (s *Store) List() []Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.books)
}

// Get returns the book with the given ID.
func (s *Store) Get(id int) (Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.index(id); i >= 0 {
		return s.books[i], true
	}
	return Book{}, false
}

// Update applies fn to the stored book and keeps the result if fn returns
// no error. The ID cannot change.
func (s *Store) Update(id int, fn func(Book) (Book, error)) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return Book{}, ErrNotFound
	}
	updated, err := fn(s.books[i])
	if err != nil {
		return Book{}, err
	}
	updated.ID = id
	s.books[i] = updated
	return updated, nil
}

// Delete removes and returns the book with the given ID.
func (s *Store) Delete(id int) (Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return Book{}, false
	}
	removed := s.books[i]
	s.books = slices.Delete(s.books, i, i+1)
	return removed, true
}

// Len returns the number of stored books.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

func (s *Store) index(id int) int {
	return slices.IndexFunc(s.books, func(b Book) bool { return b.ID == id })
}
