package mongomock

import (
	"sort"
	"sync"

	"github.com/dot-do/mongomock/errors"
)

// Store is the root owned object: a mapping of database name to database.
// Callers hold an explicit handle - the engine never keeps a process-wide
// instance. All mutations are serialized through a single exclusive critical
// section per store so _id uniqueness checks and update application are
// race-free.
type Store struct {
	mu        sync.RWMutex
	databases map[string]*Database
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		databases: map[string]*Database{},
	}
}

// Database owns named collections, created lazily on first reference
type Database struct {
	name        string
	collections map[string]*Collection
}

// Collection is a named, insertion-ordered sequence of documents keyed by _id
type Collection struct {
	name      string
	docs      Documents
	positions map[string]int
	indexes   []IndexModel
	validator *schemaValidator
}

// idKey returns the raw json form of the document's _id, distinguishing the
// string "1" from the number 1
func idKey(doc *Document) string {
	v := doc.get(idField)
	if !v.Exists() {
		return ""
	}
	return v.Raw
}

func (c *Collection) scan() Documents {
	out := make(Documents, len(c.docs))
	copy(out, c.docs)
	return out
}

func (c *Collection) get(key string) (*Document, bool) {
	i, ok := c.positions[key]
	if !ok {
		return nil, false
	}
	return c.docs[i], true
}

func (c *Collection) insert(doc *Document) error {
	key := idKey(doc)
	if key == "" {
		return errors.New(errors.Validation, "document requires an _id")
	}
	if _, ok := c.positions[key]; ok {
		return errors.New(errors.DuplicateKey, "E11000 duplicate key error collection: %s index: _id_ dup key: %s", c.name, key)
	}
	c.positions[key] = len(c.docs)
	c.docs = append(c.docs, doc)
	return nil
}

func (c *Collection) replace(key string, doc *Document) bool {
	i, ok := c.positions[key]
	if !ok {
		return false
	}
	c.docs[i] = doc
	return true
}

func (c *Collection) delete(key string) bool {
	i, ok := c.positions[key]
	if !ok {
		return false
	}
	c.docs = append(c.docs[:i], c.docs[i+1:]...)
	delete(c.positions, key)
	for j := i; j < len(c.docs); j++ {
		c.positions[idKey(c.docs[j])] = j
	}
	return true
}

func (s *Store) databaseLocked(db string) *Database {
	d, ok := s.databases[db]
	if !ok {
		d = &Database{
			name:        db,
			collections: map[string]*Collection{},
		}
		s.databases[db] = d
	}
	return d
}

func (s *Store) getOrCreateLocked(db, coll string) *Collection {
	d := s.databaseLocked(db)
	c, ok := d.collections[coll]
	if !ok {
		c = &Collection{
			name:      coll,
			positions: map[string]int{},
			indexes:   []IndexModel{idIndex()},
		}
		d.collections[coll] = c
	}
	return c
}

func (s *Store) getLocked(db, coll string) (*Collection, bool) {
	d, ok := s.databases[db]
	if !ok {
		return nil, false
	}
	c, ok := d.collections[coll]
	return c, ok
}

// Write runs fn inside the store's exclusive critical section with the
// collection created on demand. Compound operations (filtered updates,
// upserts, findOneAnd*) run entirely inside fn so no other writer can
// interleave.
func (s *Store) Write(db, coll string, fn func(c *Collection) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.getOrCreateLocked(db, coll))
}

// Read runs fn under the shared read lock. fn receives nil when the
// collection does not exist.
func (s *Store) Read(db, coll string, fn func(c *Collection) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, _ := s.getLocked(db, coll)
	return fn(c)
}

// GetOrCreateCollection ensures the database and collection exist
func (s *Store) GetOrCreateCollection(db, coll string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(db, coll)
}

// Insert adds the document, failing with a DuplicateKey error when its _id
// already exists. The mutation is atomic: fully applied or not applied at all.
func (s *Store) Insert(db, coll string, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(db, coll).insert(doc)
}

// GetByID returns a copy of the document whose raw json _id equals rawID
func (s *Store) GetByID(db, coll, rawID string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.getLocked(db, coll)
	if !ok {
		return nil, false
	}
	doc, ok := c.get(rawID)
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// ReplaceByID swaps the stored document for the given id in place, returning
// whether an existing document was replaced
func (s *Store) ReplaceByID(db, coll, rawID string, doc *Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.getLocked(db, coll)
	if !ok {
		return false
	}
	return c.replace(rawID, doc)
}

// DeleteWhere removes every document satisfying the predicate, returning the
// number removed
func (s *Store) DeleteWhere(db, coll string, predicate func(*Document) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.getLocked(db, coll)
	if !ok {
		return 0
	}
	deleted := 0
	for _, doc := range c.scan() {
		if predicate(doc) {
			if c.delete(idKey(doc)) {
				deleted++
			}
		}
	}
	return deleted
}

// Scan returns the collection's documents in insertion order, as they stood
// at the moment the call acquired the read lock
func (s *Store) Scan(db, coll string) Documents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.getLocked(db, coll)
	if !ok {
		return Documents{}
	}
	return c.scan()
}

// Count returns the number of documents without scanning them
func (s *Store) Count(db, coll string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.getLocked(db, coll)
	if !ok {
		return 0
	}
	return len(c.docs)
}

// DropCollection removes the collection, returning whether it existed. The
// committed callback runs while the store mutex is still held, so callers can
// record the drop in commit order.
func (s *Store) DropCollection(db, coll string, committed func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.databases[db]
	if !ok {
		return false
	}
	_, ok = d.collections[coll]
	delete(d.collections, coll)
	if ok && committed != nil {
		committed()
	}
	return ok
}

// DropDatabase removes the database and all of its collections. The committed
// callback runs under the store mutex once the database is gone.
func (s *Store) DropDatabase(db string, committed func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.databases[db]
	delete(s.databases, db)
	if ok && committed != nil {
		committed()
	}
	return ok
}

// RenameCollection moves a collection to a new name within its database. The
// committed callback runs under the store mutex once the rename is applied.
func (s *Store) RenameCollection(db, from, to string, committed func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.databases[db]
	if !ok {
		return errors.New(errors.Validation, "database does not exist: %s", db)
	}
	c, ok := d.collections[from]
	if !ok {
		return errors.New(errors.Validation, "collection does not exist: %s.%s", db, from)
	}
	if _, exists := d.collections[to]; exists {
		return errors.New(errors.DuplicateKey, "target collection already exists: %s.%s", db, to)
	}
	delete(d.collections, from)
	c.name = to
	d.collections[to] = c
	if committed != nil {
		committed()
	}
	return nil
}

// ListCollectionNames returns the database's collection names, sorted
func (s *Store) ListCollectionNames(db string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.databases[db]
	if !ok {
		return []string{}
	}
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListDatabaseNames returns the store's database names, sorted
func (s *Store) ListDatabaseNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
