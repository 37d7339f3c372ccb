package stubs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"bookswap/internal/models"
	"bookswap/internal/storage"
)

type set map[string]struct{}

// state holds every table of the in-memory database
type state struct {
	members       map[string]models.Member
	books         map[string]models.Book
	library       map[string]set // member -> books
	owners        map[string]set // book -> members
	offered       map[string]set // member -> books
	addressAccess map[string]set // owner -> viewers
	requests      map[string]models.Request
	actualByBook  map[string]set // wanted book -> ACTUAL request ids
	exchanges     map[string]models.Exchange
	events        []models.Event
}

func newState() *state {
	return &state{
		members:       make(map[string]models.Member),
		books:         make(map[string]models.Book),
		library:       make(map[string]set),
		owners:        make(map[string]set),
		offered:       make(map[string]set),
		addressAccess: make(map[string]set),
		requests:      make(map[string]models.Request),
		actualByBook:  make(map[string]set),
		exchanges:     make(map[string]models.Exchange),
		events:        make([]models.Event, 0),
	}
}

func cloneSets(src map[string]set) map[string]set {
	dst := make(map[string]set, len(src))
	for k, s := range src {
		c := make(set, len(s))
		for v := range s {
			c[v] = struct{}{}
		}
		dst[k] = c
	}
	return dst
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *state) clone() *state {
	events := make([]models.Event, len(s.events))
	copy(events, s.events)
	return &state{
		members:       cloneMap(s.members),
		books:         cloneMap(s.books),
		library:       cloneSets(s.library),
		owners:        cloneSets(s.owners),
		offered:       cloneSets(s.offered),
		addressAccess: cloneSets(s.addressAccess),
		requests:      cloneMap(s.requests),
		actualByBook:  cloneSets(s.actualByBook),
		exchanges:     cloneMap(s.exchanges),
		events:        events,
	}
}

func (s set) add(v string) { s[v] = struct{}{} }

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

func addTo(m map[string]set, key, v string) {
	if m[key] == nil {
		m[key] = make(set)
	}
	m[key].add(v)
}

func removeFrom(m map[string]set, key, v string) {
	if s := m[key]; s != nil {
		delete(s, v)
		if len(s) == 0 {
			delete(m, key)
		}
	}
}

// MockDB is an in-memory implementation of the Storage and Journal interfaces.
// Transactions hold the write lock for their whole duration and restore a
// snapshot of the state when the transaction function fails.
type MockDB struct {
	mu *sync.RWMutex
	st *state
	tx bool // true for the view handed to InTx callbacks; the lock is already held
}

var (
	_ storage.Storage = (*MockDB)(nil)
	_ storage.Journal = (*MockDB)(nil)
)

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		mu: &sync.RWMutex{},
		st: newState(),
	}
}

func (m *MockDB) lock() func() {
	if m.tx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MockDB) rlock() func() {
	if m.tx {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

// Initialize is a no-op for the in-memory database
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// InTx runs fn while holding the write lock and rolls back on error or panic
func (m *MockDB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Storage) error) (err error) {
	if m.tx {
		return fn(ctx, m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	defer func() {
		if r := recover(); r != nil {
			*m.st = *snapshot
			panic(r)
		}
		if err != nil {
			*m.st = *snapshot
		}
	}()

	return fn(ctx, &MockDB{mu: m.mu, st: m.st, tx: true})
}

// CreateMember stores a member, generating an id when none is given
func (m *MockDB) CreateMember(ctx context.Context, member models.Member) (models.Member, error) {
	defer m.lock()()

	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if _, exists := m.st.members[member.ID]; exists {
		return models.Member{}, fmt.Errorf("member %s already exists: %w", member.ID, models.ErrConflict)
	}
	m.st.members[member.ID] = member
	return member, nil
}

// GetMember returns a member by id
func (m *MockDB) GetMember(ctx context.Context, id string) (models.Member, error) {
	defer m.rlock()()

	member, ok := m.st.members[id]
	if !ok {
		return models.Member{}, fmt.Errorf("member %s: %w", id, models.ErrNotFound)
	}
	return member, nil
}

// CreateBook stores a book, generating an id when none is given
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) (models.Book, error) {
	defer m.lock()()

	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	if _, exists := m.st.books[book.ID]; exists {
		return models.Book{}, fmt.Errorf("book %s already exists: %w", book.ID, models.ErrConflict)
	}
	m.st.books[book.ID] = book
	return book, nil
}

// GetBook returns a book by id
func (m *MockDB) GetBook(ctx context.Context, id string) (models.Book, error) {
	defer m.rlock()()

	book, ok := m.st.books[id]
	if !ok {
		return models.Book{}, fmt.Errorf("book %s: %w", id, models.ErrNotFound)
	}
	return book, nil
}

// GrantAddressAccess lets viewerID see ownerID's address
func (m *MockDB) GrantAddressAccess(ctx context.Context, ownerID, viewerID string) error {
	defer m.lock()()

	if err := m.checkMembers(ownerID, viewerID); err != nil {
		return err
	}
	addTo(m.st.addressAccess, ownerID, viewerID)
	return nil
}

// CanViewAddress reports whether viewerID was granted access to ownerID's address
func (m *MockDB) CanViewAddress(ctx context.Context, viewerID, ownerID string) (bool, error) {
	defer m.rlock()()

	if viewerID == ownerID {
		return true, nil
	}
	return m.st.addressAccess[ownerID].has(viewerID), nil
}

func (m *MockDB) checkMembers(ids ...string) error {
	for _, id := range ids {
		if _, ok := m.st.members[id]; !ok {
			return fmt.Errorf("member %s: %w", id, models.ErrNotFound)
		}
	}
	return nil
}

func (m *MockDB) checkMemberAndBook(memberID, bookID string) error {
	if err := m.checkMembers(memberID); err != nil {
		return err
	}
	if _, ok := m.st.books[bookID]; !ok {
		return fmt.Errorf("book %s: %w", bookID, models.ErrNotFound)
	}
	return nil
}

// LibraryContains reports whether the book is in the member's library
func (m *MockDB) LibraryContains(ctx context.Context, memberID, bookID string) (bool, error) {
	defer m.rlock()()
	return m.st.library[memberID].has(bookID), nil
}

// AddToLibrary adds a book to the member's library
func (m *MockDB) AddToLibrary(ctx context.Context, memberID, bookID string) error {
	defer m.lock()()

	if err := m.checkMemberAndBook(memberID, bookID); err != nil {
		return err
	}
	addTo(m.st.library, memberID, bookID)
	addTo(m.st.owners, bookID, memberID)
	return nil
}

// RemoveFromLibrary removes a book from the member's library and offered set
func (m *MockDB) RemoveFromLibrary(ctx context.Context, memberID, bookID string) error {
	defer m.lock()()

	removeFrom(m.st.library, memberID, bookID)
	removeFrom(m.st.owners, bookID, memberID)
	removeFrom(m.st.offered, memberID, bookID)
	return nil
}

// ListLibrary returns the member's books sorted by title
func (m *MockDB) ListLibrary(ctx context.Context, memberID string) ([]models.Book, error) {
	defer m.rlock()()
	return m.booksOf(m.st.library[memberID]), nil
}

// OfferedContains reports whether the member offers the book for exchange
func (m *MockDB) OfferedContains(ctx context.Context, memberID, bookID string) (bool, error) {
	defer m.rlock()()
	return m.st.offered[memberID].has(bookID), nil
}

// AddToOffered marks a library book as available for exchange
func (m *MockDB) AddToOffered(ctx context.Context, memberID, bookID string) error {
	defer m.lock()()

	if err := m.checkMemberAndBook(memberID, bookID); err != nil {
		return err
	}
	if !m.st.library[memberID].has(bookID) {
		return fmt.Errorf("book %s is not in library of %s: %w", bookID, memberID, models.ErrValidation)
	}
	addTo(m.st.offered, memberID, bookID)
	return nil
}

// RemoveFromOffered withdraws a book from exchange
func (m *MockDB) RemoveFromOffered(ctx context.Context, memberID, bookID string) error {
	defer m.lock()()

	removeFrom(m.st.offered, memberID, bookID)
	return nil
}

// ListOffered returns the member's offered books sorted by title
func (m *MockDB) ListOffered(ctx context.Context, memberID string) ([]models.Book, error) {
	defer m.rlock()()
	return m.booksOf(m.st.offered[memberID]), nil
}

// BookOwners returns ids of members owning the book, sorted
func (m *MockDB) BookOwners(ctx context.Context, bookID string) ([]string, error) {
	defer m.rlock()()

	owners := make([]string, 0, len(m.st.owners[bookID]))
	for id := range m.st.owners[bookID] {
		owners = append(owners, id)
	}
	sort.Strings(owners)
	return owners, nil
}

func (m *MockDB) booksOf(ids set) []models.Book {
	books := make([]models.Book, 0, len(ids))
	for id := range ids {
		if book, ok := m.st.books[id]; ok {
			books = append(books, book)
		}
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	return books
}

// CreateRequest stores a new request
func (m *MockDB) CreateRequest(ctx context.Context, request models.Request) error {
	defer m.lock()()

	if _, exists := m.st.requests[request.ID]; exists {
		return fmt.Errorf("request %s already exists: %w", request.ID, models.ErrConflict)
	}
	m.st.requests[request.ID] = request
	if request.Status == models.RequestActual {
		addTo(m.st.actualByBook, request.BookSenderWants, request.ID)
	}
	return nil
}

// GetRequest returns a request by id
func (m *MockDB) GetRequest(ctx context.Context, id string) (models.Request, error) {
	defer m.rlock()()

	request, ok := m.st.requests[id]
	if !ok {
		return models.Request{}, fmt.Errorf("request %s: %w", id, models.ErrNotFound)
	}
	return request, nil
}

// UpdateRequest stores the request when its version matches
func (m *MockDB) UpdateRequest(ctx context.Context, request models.Request) (models.Request, error) {
	defer m.lock()()

	current, ok := m.st.requests[request.ID]
	if !ok {
		return models.Request{}, fmt.Errorf("request %s: %w", request.ID, models.ErrNotFound)
	}
	if current.Version != request.Version {
		return models.Request{}, fmt.Errorf("request %s version %d, stored %d: %w",
			request.ID, request.Version, current.Version, models.ErrConflict)
	}

	request.Version++
	m.st.requests[request.ID] = request

	removeFrom(m.st.actualByBook, current.BookSenderWants, request.ID)
	if request.Status == models.RequestActual {
		addTo(m.st.actualByBook, request.BookSenderWants, request.ID)
	}
	return request, nil
}

// ListActualRequestsForBook returns ACTUAL requests for the wanted book, oldest first
func (m *MockDB) ListActualRequestsForBook(ctx context.Context, bookID string) ([]models.Request, error) {
	defer m.rlock()()

	requests := make([]models.Request, 0, len(m.st.actualByBook[bookID]))
	for id := range m.st.actualByBook[bookID] {
		requests = append(requests, m.st.requests[id])
	}
	sortRequests(requests)
	return requests, nil
}

// FindRequests returns requests matching the filter, oldest first
func (m *MockDB) FindRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	defer m.rlock()()

	requests := make([]models.Request, 0)
	for _, r := range m.st.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.MemberID != "" && !r.Involves(filter.MemberID) {
			continue
		}
		requests = append(requests, r)
	}
	sortRequests(requests)
	return requests, nil
}

func sortRequests(requests []models.Request) {
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.Before(requests[j].CreatedAt)
		}
		return requests[i].ID < requests[j].ID
	})
}

// CreateExchange stores a new exchange
func (m *MockDB) CreateExchange(ctx context.Context, exchange models.Exchange) error {
	defer m.lock()()

	if _, exists := m.st.exchanges[exchange.ID]; exists {
		return fmt.Errorf("exchange %s already exists: %w", exchange.ID, models.ErrConflict)
	}
	m.st.exchanges[exchange.ID] = exchange
	return nil
}

// GetExchange returns an exchange by id
func (m *MockDB) GetExchange(ctx context.Context, id string) (models.Exchange, error) {
	defer m.rlock()()

	exchange, ok := m.st.exchanges[id]
	if !ok {
		return models.Exchange{}, fmt.Errorf("exchange %s: %w", id, models.ErrNotFound)
	}
	return exchange, nil
}

// UpdateExchange stores the exchange when its version matches
func (m *MockDB) UpdateExchange(ctx context.Context, exchange models.Exchange) (models.Exchange, error) {
	defer m.lock()()

	current, ok := m.st.exchanges[exchange.ID]
	if !ok {
		return models.Exchange{}, fmt.Errorf("exchange %s: %w", exchange.ID, models.ErrNotFound)
	}
	if current.Version != exchange.Version {
		return models.Exchange{}, fmt.Errorf("exchange %s version %d, stored %d: %w",
			exchange.ID, exchange.Version, current.Version, models.ErrConflict)
	}

	exchange.Version++
	m.st.exchanges[exchange.ID] = exchange
	return exchange, nil
}

// SearchExchanges returns exchanges matching the filter, oldest first
func (m *MockDB) SearchExchanges(ctx context.Context, filter models.ExchangeFilter) ([]models.Exchange, error) {
	defer m.rlock()()

	exchanges := make([]models.Exchange, 0)
	for _, e := range m.st.exchanges {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.MemberID != "" && e.Side(filter.MemberID) == 0 {
			continue
		}
		exchanges = append(exchanges, e)
	}
	sort.Slice(exchanges, func(i, j int) bool {
		if !exchanges[i].CreatedAt.Equal(exchanges[j].CreatedAt) {
			return exchanges[i].CreatedAt.Before(exchanges[j].CreatedAt)
		}
		return exchanges[i].ID < exchanges[j].ID
	})
	return exchanges, nil
}

// RecordEvent appends a lifecycle event
func (m *MockDB) RecordEvent(ctx context.Context, event models.Event) error {
	defer m.lock()()

	m.st.events = append(m.st.events, event)
	return nil
}

// GetLastEvents returns the last N events
func (m *MockDB) GetLastEvents(ctx context.Context, limit int) ([]models.Event, error) {
	defer m.rlock()()

	// Sort events by date descending
	sortedEvents := make([]models.Event, len(m.st.events))
	copy(sortedEvents, m.st.events)
	sort.SliceStable(sortedEvents, func(i, j int) bool {
		return sortedEvents[i].OccurredAt.After(sortedEvents[j].OccurredAt)
	})

	if limit > len(sortedEvents) {
		limit = len(sortedEvents)
	}

	return sortedEvents[:limit], nil
}

// GetExchangeEvents returns the events of one exchange in the order they occurred
func (m *MockDB) GetExchangeEvents(ctx context.Context, exchangeID string) ([]models.Event, error) {
	defer m.rlock()()

	events := make([]models.Event, 0)
	for _, e := range m.st.events {
		if e.ExchangeID == exchangeID {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	return events, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
