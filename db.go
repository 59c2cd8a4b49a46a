package mongomock

import (
	"context"
	"strings"

	"github.com/autom8ter/machine/v4"
	"github.com/dot-do/mongomock/errors"
	"github.com/dot-do/mongomock/util"
	"github.com/segmentio/ksuid"
	"github.com/tidwall/gjson"
)

// DB is an in-memory, mongo-flavored document database engine. All methods
// are safe for concurrent use. Writes run inside a single exclusive critical
// section per engine; reads operate on a snapshot taken under a shared lock.
type DB struct {
	config  Config
	store   *Store
	cursors *cursorManager
	changes *changeLog
	machine machine.Machine
}

// New creates an engine instance from the given config
func New(ctx context.Context, cfg Config) (*DB, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "invalid config")
	}
	d := &DB{
		config:  cfg,
		store:   NewStore(),
		changes: newChangeLog(cfg.ChangeLogCapacity),
		machine: machine.New(),
	}
	d.cursors = newCursorManager(cfg.CursorIdleTimeout, cfg.Logger)
	cfg.Logger.Debug(ctx, "opened database engine", map[string]any{
		"batch_size":     cfg.DefaultBatchSize,
		"cursor_timeout": cfg.CursorIdleTimeout.String(),
	})
	return d, nil
}

// Config returns the engine's resolved configuration
func (d *DB) Config() Config {
	return d.config
}

// Close stops the cursor reaper and waits for change stream subscribers to
// unwind. Streams still blocked in Next are woken with an error.
func (d *DB) Close(ctx context.Context) error {
	d.cursors.stop()
	d.machine.Close()
	return d.machine.Wait()
}

func (d *DB) publish(ctx context.Context, evs []ChangeEvent) {
	for _, ev := range evs {
		d.machine.Publish(ctx, machine.Message{
			Channel: changeChannel,
			Body:    ev,
		})
	}
}

// snapshot copies the collection's documents under the shared lock so query
// evaluation never races a writer
func (d *DB) snapshot(db, coll string) Documents {
	var snap Documents
	_ = d.store.Read(db, coll, func(c *Collection) error {
		if c == nil {
			return nil
		}
		snap = c.scan().Map(func(t *Document, _ int) *Document {
			return t.Clone()
		})
		return nil
	})
	return snap
}

// prepareInsert validates the _id, generating one when absent, and runs the
// collection validator
func prepareInsert(c *Collection, doc *Document) (any, error) {
	if doc == nil || !doc.Valid() {
		return nil, errors.New(errors.Validation, "invalid json document")
	}
	id := doc.get(idField)
	if id.Exists() {
		if kind := kindOf(id); kind != kindString && kind != kindNumber {
			return nil, errors.New(errors.Validation, "_id must be a string or a number")
		}
	} else {
		if err := doc.Set(idField, ksuid.New().String()); err != nil {
			return nil, err
		}
	}
	if c.validator != nil {
		if err := c.validator.validate(doc); err != nil {
			return nil, err
		}
	}
	return doc.Get(idField), nil
}

// InsertOne stores a single document. A ksuid _id is generated when the input
// has none. Inserting an _id that already exists fails with a duplicate key error.
func (d *DB) InsertOne(ctx context.Context, db, coll string, document *Document) (*InsertOneResult, error) {
	var result *InsertOneResult
	var pending []ChangeEvent
	err := d.store.Write(db, coll, func(c *Collection) error {
		doc := document.Clone()
		id, err := prepareInsert(c, doc)
		if err != nil {
			return err
		}
		if err := c.insert(doc); err != nil {
			return err
		}
		pending = append(pending, d.changes.append(insertEvent(db, coll, doc)))
		result = &InsertOneResult{InsertedID: id}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, pending)
	return result, nil
}

// InsertMany stores documents in input order. Ordered mode (the default)
// stops at the first failure; unordered mode attempts every document and
// collects every failure into a single error. In both modes the returned
// result reflects the documents that were stored.
func (d *DB) InsertMany(ctx context.Context, db, coll string, documents Documents, opts *InsertManyOptions) (*InsertManyResult, error) {
	result := &InsertManyResult{InsertedIDs: map[int]any{}}
	var pending []ChangeEvent
	var failures []error
	err := d.store.Write(db, coll, func(c *Collection) error {
		for i, document := range documents {
			doc := document.Clone()
			id, err := prepareInsert(c, doc)
			if err == nil {
				err = c.insert(doc)
			}
			if err != nil {
				failures = append(failures, err)
				if opts.ordered() {
					return nil
				}
				continue
			}
			pending = append(pending, d.changes.append(insertEvent(db, coll, doc)))
			result.InsertedCount++
			result.InsertedIDs[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, pending)
	return result, combineErrors(failures)
}

// combineErrors folds a slice of write failures into one error carrying every
// failure message. The code of the first failure wins.
func combineErrors(failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	if len(failures) == 1 {
		return failures[0]
	}
	combined := &errors.Error{Code: errors.Extract(failures[0]).Code}
	for _, f := range failures {
		combined.Messages = append(combined.Messages, errors.Extract(f).Messages...)
	}
	return combined
}

// Find evaluates filter against a snapshot of the collection and returns the
// first batch, pipeline order: filter, sort, skip, limit, projection. A
// missing collection yields an empty result.
func (d *DB) Find(ctx context.Context, db, coll string, filter *Document, opts *FindOptions) (*FindResult, error) {
	if opts == nil {
		opts = &FindOptions{}
	}
	if err := util.ValidateStruct(opts); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid find options")
	}
	sortFields, err := sortFieldsFrom(opts.Sort)
	if err != nil {
		return nil, err
	}
	results, err := executeFind(d.snapshot(db, coll), filter, sortFields, opts.Skip, opts.Limit, opts.Projection)
	if err != nil {
		return nil, err
	}
	return d.batch(db, coll, results, opts.BatchSize), nil
}

// FindOne returns the first match or nil when nothing matches
func (d *DB) FindOne(ctx context.Context, db, coll string, filter *Document, opts *FindOptions) (*Document, error) {
	if opts == nil {
		opts = &FindOptions{}
	}
	sortFields, err := sortFieldsFrom(opts.Sort)
	if err != nil {
		return nil, err
	}
	results, err := executeFind(d.snapshot(db, coll), filter, sortFields, opts.Skip, 1, opts.Projection)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// GetMore returns the next batch of an open cursor. An unknown, closed or
// reaped cursor id fails with a cursor not found error.
func (d *DB) GetMore(ctx context.Context, cursorID string, batchSize int) (*FindResult, error) {
	if batchSize <= 0 {
		batchSize = d.config.DefaultBatchSize
	}
	batch, next, err := d.cursors.getMore(cursorID, batchSize)
	if err != nil {
		return nil, err
	}
	return &FindResult{Batch: batch, CursorID: next}, nil
}

// CloseCursor releases an open cursor
func (d *DB) CloseCursor(ctx context.Context, cursorID string) error {
	return d.cursors.close(cursorID)
}

func (d *DB) batch(db, coll string, docs Documents, batchSize int) *FindResult {
	if batchSize <= 0 {
		batchSize = d.config.DefaultBatchSize
	}
	if len(docs) <= batchSize {
		return &FindResult{Batch: docs}
	}
	return &FindResult{
		Batch:    docs[:batchSize],
		CursorID: d.cursors.open(db, coll, docs[batchSize:]),
	}
}

// UpdateOne applies update to the first document matching filter in insertion
// order. With Upsert set, a miss inserts a document synthesized from the
// filter's equality fields with the update applied.
func (d *DB) UpdateOne(ctx context.Context, db, coll string, filter, update *Document, opts *UpdateOptions) (*UpdateResult, error) {
	return d.executeUpdate(ctx, db, coll, filter, update, false, opts != nil && opts.Upsert)
}

// UpdateMany applies update to every document matching filter
func (d *DB) UpdateMany(ctx context.Context, db, coll string, filter, update *Document, opts *UpdateOptions) (*UpdateResult, error) {
	return d.executeUpdate(ctx, db, coll, filter, update, true, opts != nil && opts.Upsert)
}

func (d *DB) executeUpdate(ctx context.Context, db, coll string, filter, update *Document, multi, upsert bool) (*UpdateResult, error) {
	if update == nil || !update.Valid() {
		return nil, errors.New(errors.Validation, "invalid update document")
	}
	if isReplacement(update) {
		return nil, errors.New(errors.Validation, "update document must contain update operators")
	}
	result := &UpdateResult{}
	var pending []ChangeEvent
	err := d.store.Write(db, coll, func(c *Collection) error {
		for _, doc := range c.scan() {
			ok, err := doc.Matches(filter)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			result.MatchedCount++
			post, err := applyUpdate(doc, update, false)
			if err != nil {
				return err
			}
			if post.String() == doc.String() {
				if !multi {
					break
				}
				continue
			}
			if err := commitMutation(c, doc, post); err != nil {
				return err
			}
			result.ModifiedCount++
			pending = append(pending, d.changes.append(updateEvent(db, coll, doc, post)))
			if !multi {
				break
			}
		}
		if result.MatchedCount == 0 && upsert {
			doc, id, err := upsertDocument(c, filter, update)
			if err != nil {
				return err
			}
			pending = append(pending, d.changes.append(insertEvent(db, coll, doc)))
			result.UpsertedCount = 1
			result.UpsertedID = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, pending)
	return result, nil
}

// commitMutation swaps post in for pre, rejecting _id changes and validator violations
func commitMutation(c *Collection, pre, post *Document) error {
	if idKey(post) != idKey(pre) {
		return errors.New(errors.Validation, "the _id field is immutable")
	}
	if c.validator != nil {
		if err := c.validator.validate(post); err != nil {
			return err
		}
	}
	c.replace(idKey(pre), post)
	return nil
}

// upsertDocument builds the miss-path document: the filter's equality fields
// with the update applied on top, including $setOnInsert
func upsertDocument(c *Collection, filter, update *Document) (*Document, any, error) {
	base := upsertBase(filter)
	doc, err := applyUpdate(base, update, true)
	if err != nil {
		return nil, nil, err
	}
	id, err := prepareInsert(c, doc)
	if err != nil {
		return nil, nil, err
	}
	if err := c.insert(doc); err != nil {
		return nil, nil, err
	}
	return doc, id, nil
}

// upsertBase extracts the literal and $eq equality fields of a filter
func upsertBase(filter *Document) *Document {
	base := NewDocument()
	if filter == nil {
		return base
	}
	for _, entry := range objectEntries(filter.result) {
		if strings.HasPrefix(entry.key, "$") {
			continue
		}
		if isOperatorDoc(entry.value) {
			if eq := entry.value.Get("$eq"); eq.Exists() {
				_ = base.set(entry.key, eq)
			}
			continue
		}
		_ = base.set(entry.key, entry.value)
	}
	return base
}

// ReplaceOne swaps the first document matching filter for replacement. The
// replacement must not contain update operators and may not change the _id.
func (d *DB) ReplaceOne(ctx context.Context, db, coll string, filter, replacement *Document, opts *UpdateOptions) (*UpdateResult, error) {
	if err := validateReplacement(replacement); err != nil {
		return nil, err
	}
	upsert := opts != nil && opts.Upsert
	result := &UpdateResult{}
	var pending []ChangeEvent
	err := d.store.Write(db, coll, func(c *Collection) error {
		for _, doc := range c.scan() {
			ok, err := doc.Matches(filter)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			result.MatchedCount++
			post, err := replacementFor(doc, replacement)
			if err != nil {
				return err
			}
			if post.String() == doc.String() {
				return nil
			}
			if err := commitMutation(c, doc, post); err != nil {
				return err
			}
			result.ModifiedCount++
			pending = append(pending, d.changes.append(replaceEvent(db, coll, post)))
			return nil
		}
		if upsert {
			doc := replacement.Clone()
			if !doc.Exists(idField) {
				if id := upsertBase(filter).get(idField); id.Exists() {
					if err := doc.set(idField, id); err != nil {
						return err
					}
				}
			}
			id, err := prepareInsert(c, doc)
			if err != nil {
				return err
			}
			if err := c.insert(doc); err != nil {
				return err
			}
			pending = append(pending, d.changes.append(insertEvent(db, coll, doc)))
			result.UpsertedCount = 1
			result.UpsertedID = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, pending)
	return result, nil
}

func validateReplacement(replacement *Document) error {
	if replacement == nil || !replacement.Valid() {
		return errors.New(errors.Validation, "invalid replacement document")
	}
	if isReplacement(replacement) {
		return nil
	}
	return errors.New(errors.Validation, "replacement document must not contain update operators")
}

// replacementFor builds the post image of a replace: the replacement's fields
// under the existing document's _id
func replacementFor(pre, replacement *Document) (*Document, error) {
	post := replacement.Clone()
	if post.Exists(idField) {
		if post.get(idField).Raw != pre.get(idField).Raw {
			return nil, errors.New(errors.Validation, "the _id field is immutable")
		}
		return post, nil
	}
	ordered := NewDocument()
	if err := ordered.set(idField, pre.get(idField)); err != nil {
		return nil, err
	}
	for _, entry := range objectEntries(post.result) {
		if err := ordered.set(entry.key, entry.value); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// DeleteOne removes the first document matching filter in insertion order.
// Deleting zero documents is not an error.
func (d *DB) DeleteOne(ctx context.Context, db, coll string, filter *Document) (*DeleteResult, error) {
	return d.executeDelete(ctx, db, coll, filter, false)
}

// DeleteMany removes every document matching filter
func (d *DB) DeleteMany(ctx context.Context, db, coll string, filter *Document) (*DeleteResult, error) {
	return d.executeDelete(ctx, db, coll, filter, true)
}

func (d *DB) executeDelete(ctx context.Context, db, coll string, filter *Document, multi bool) (*DeleteResult, error) {
	result := &DeleteResult{}
	var pending []ChangeEvent
	err := d.store.Write(db, coll, func(c *Collection) error {
		for _, doc := range c.scan() {
			ok, err := doc.Matches(filter)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			c.delete(idKey(doc))
			result.DeletedCount++
			pending = append(pending, d.changes.append(deleteEvent(db, coll, doc)))
			if !multi {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, pending)
	return result, nil
}

// FindOneAndUpdate atomically selects, updates and returns one document. The
// Sort option breaks ties, ReturnDocument picks the pre or post image, and a
// nil return with a nil error means nothing matched.
func (d *DB) FindOneAndUpdate(ctx context.Context, db, coll string, filter, update *Document, opts *FindOneAndModifyOptions) (*Document, error) {
	if update == nil || !update.Valid() || isReplacement(update) {
		return nil, errors.New(errors.Validation, "update document must contain update operators")
	}
	return d.findOneAndMutate(ctx, db, coll, filter, opts, func(pre *Document) (*Document, error) {
		return applyUpdate(pre, update, false)
	}, func(c *Collection) (*Document, any, error) {
		return upsertDocument(c, filter, update)
	})
}

// FindOneAndReplace atomically selects, replaces and returns one document
func (d *DB) FindOneAndReplace(ctx context.Context, db, coll string, filter, replacement *Document, opts *FindOneAndModifyOptions) (*Document, error) {
	if err := validateReplacement(replacement); err != nil {
		return nil, err
	}
	return d.findOneAndMutate(ctx, db, coll, filter, opts, func(pre *Document) (*Document, error) {
		return replacementFor(pre, replacement)
	}, func(c *Collection) (*Document, any, error) {
		doc := replacement.Clone()
		id, err := prepareInsert(c, doc)
		if err != nil {
			return nil, nil, err
		}
		if err := c.insert(doc); err != nil {
			return nil, nil, err
		}
		return doc, id, nil
	})
}

func (d *DB) findOneAndMutate(ctx context.Context, db, coll string, filter *Document, opts *FindOneAndModifyOptions, mutate func(pre *Document) (*Document, error), insert func(c *Collection) (*Document, any, error)) (*Document, error) {
	if opts == nil {
		opts = &FindOneAndModifyOptions{}
	}
	if err := util.ValidateStruct(opts); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid findOneAnd options")
	}
	sortFields, err := sortFieldsFrom(opts.Sort)
	if err != nil {
		return nil, err
	}
	var returned *Document
	var pending []ChangeEvent
	err = d.store.Write(db, coll, func(c *Collection) error {
		pre, err := selectOne(c, filter, sortFields)
		if err != nil {
			return err
		}
		if pre == nil {
			if !opts.Upsert {
				return nil
			}
			doc, _, err := insert(c)
			if err != nil {
				return err
			}
			pending = append(pending, d.changes.append(insertEvent(db, coll, doc)))
			if opts.ReturnDocument == ReturnAfter {
				returned = doc.Clone()
			}
			return nil
		}
		post, err := mutate(pre)
		if err != nil {
			return err
		}
		if post.String() != pre.String() {
			if err := commitMutation(c, pre, post); err != nil {
				return err
			}
			pending = append(pending, d.changes.append(updateEvent(db, coll, pre, post)))
		}
		if opts.ReturnDocument == ReturnAfter {
			returned = post.Clone()
		} else {
			returned = pre.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, pending)
	return projectReturned(returned, opts.Projection)
}

// FindOneAndDelete atomically selects, removes and returns one document. It
// always returns the pre image; nil with a nil error means nothing matched.
func (d *DB) FindOneAndDelete(ctx context.Context, db, coll string, filter *Document, opts *FindOneAndModifyOptions) (*Document, error) {
	if opts == nil {
		opts = &FindOneAndModifyOptions{}
	}
	sortFields, err := sortFieldsFrom(opts.Sort)
	if err != nil {
		return nil, err
	}
	var returned *Document
	var pending []ChangeEvent
	err = d.store.Write(db, coll, func(c *Collection) error {
		pre, err := selectOne(c, filter, sortFields)
		if err != nil {
			return err
		}
		if pre == nil {
			return nil
		}
		c.delete(idKey(pre))
		pending = append(pending, d.changes.append(deleteEvent(db, coll, pre)))
		returned = pre
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, pending)
	return projectReturned(returned, opts.Projection)
}

// selectOne picks the filter's first match, after sorting when a sort is given
func selectOne(c *Collection, filter *Document, sortFields []SortField) (*Document, error) {
	docs := c.scan()
	if len(sortFields) > 0 {
		if err := sortDocuments(docs, sortFields); err != nil {
			return nil, err
		}
	}
	for _, doc := range docs {
		ok, err := doc.Matches(filter)
		if err != nil {
			return nil, err
		}
		if ok {
			return doc, nil
		}
	}
	return nil, nil
}

func projectReturned(doc *Document, projection *Document) (*Document, error) {
	if doc == nil {
		return nil, nil
	}
	if projection == nil {
		return doc, nil
	}
	return projectDocument(doc, projection)
}

// CountDocuments counts the documents matching filter, after skip and limit
func (d *DB) CountDocuments(ctx context.Context, db, coll string, filter *Document, opts *CountOptions) (int64, error) {
	if opts == nil {
		opts = &CountOptions{}
	}
	results, err := executeFind(d.snapshot(db, coll), filter, nil, opts.Skip, opts.Limit, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(results)), nil
}

// EstimatedDocumentCount returns the collection size without evaluating a filter
func (d *DB) EstimatedDocumentCount(ctx context.Context, db, coll string) (int64, error) {
	return int64(d.store.Count(db, coll)), nil
}

// Distinct returns the deduplicated values of field across the documents
// matching filter, in first-seen order. Array values are unwound one level.
func (d *DB) Distinct(ctx context.Context, db, coll, field string, filter *Document) ([]any, error) {
	if field == "" {
		return nil, errors.New(errors.Validation, "distinct requires a field name")
	}
	var values []any
	seen := map[string]bool{}
	// absent fields contribute nothing, but a stored null is a value
	collect := func(v gjson.Result) {
		if !v.Exists() {
			return
		}
		if seen[v.Raw] {
			return
		}
		seen[v.Raw] = true
		values = append(values, v.Value())
	}
	for _, doc := range d.snapshot(db, coll) {
		ok, err := doc.Matches(filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v := doc.get(field)
		if v.IsArray() {
			for _, item := range v.Array() {
				collect(item)
			}
			continue
		}
		collect(v)
	}
	return values, nil
}

// Aggregate runs pipeline over a snapshot of the collection. Stages execute
// in order; each stage document must hold exactly one stage operator.
func (d *DB) Aggregate(ctx context.Context, db, coll string, pipeline Documents, opts *AggregateOptions) (*FindResult, error) {
	if opts == nil {
		opts = &AggregateOptions{}
	}
	results, err := runPipeline(d.snapshot(db, coll), pipeline)
	if err != nil {
		return nil, err
	}
	return d.batch(db, coll, results, opts.BatchSize), nil
}

// CreateCollection explicitly creates a collection, optionally with a json
// schema validator enforced on insert and replace
func (d *DB) CreateCollection(ctx context.Context, db, coll string, opts *CreateCollectionOptions) error {
	var validator *schemaValidator
	if opts != nil && len(opts.Validator) > 0 {
		v, err := newSchemaValidator(opts.Validator)
		if err != nil {
			return err
		}
		validator = v
	}
	return d.store.Write(db, coll, func(c *Collection) error {
		c.validator = validator
		return nil
	})
}

// CreateIndex records index metadata and returns the index name. Indexes are
// bookkeeping only and never change scan behavior.
func (d *DB) CreateIndex(ctx context.Context, db, coll string, keys *Document, opts *IndexOptions) (string, error) {
	if opts == nil {
		opts = &IndexOptions{}
	}
	var name string
	err := d.store.Write(db, coll, func(c *Collection) error {
		var err error
		name, err = c.createIndex(IndexModel{
			Name:   opts.Name,
			Keys:   keys,
			Unique: opts.Unique,
		})
		return err
	})
	return name, err
}

// DropIndex removes index metadata by name. The implicit _id_ index cannot be dropped.
func (d *DB) DropIndex(ctx context.Context, db, coll, name string) error {
	return d.store.Write(db, coll, func(c *Collection) error {
		return c.dropIndex(name)
	})
}

// ListIndexes returns the collection's index metadata, the implicit _id_ index first
func (d *DB) ListIndexes(ctx context.Context, db, coll string) ([]IndexModel, error) {
	var indexes []IndexModel
	err := d.store.Read(db, coll, func(c *Collection) error {
		if c != nil {
			indexes = c.listIndexes()
		}
		return nil
	})
	return indexes, err
}

// DropCollection removes the collection and its documents. Dropping a missing
// collection is not an error.
func (d *DB) DropCollection(ctx context.Context, db, coll string) error {
	var pending []ChangeEvent
	dropped := d.store.DropCollection(db, coll, func() {
		pending = append(pending, d.changes.append(dropEvent(db, coll)))
	})
	if dropped {
		d.publish(ctx, pending)
	}
	return nil
}

// DropDatabase removes the database and every collection in it
func (d *DB) DropDatabase(ctx context.Context, db string) error {
	var pending []ChangeEvent
	dropped := d.store.DropDatabase(db, func() {
		pending = append(pending, d.changes.append(dropDatabaseEvent(db)))
	})
	if dropped {
		d.publish(ctx, pending)
	}
	return nil
}

// RenameCollection renames a collection within a database. The source must
// exist and the target name must be free.
func (d *DB) RenameCollection(ctx context.Context, db, from, to string) error {
	var pending []ChangeEvent
	err := d.store.RenameCollection(db, from, to, func() {
		pending = append(pending, d.changes.append(renameEvent(db, from, to)))
	})
	if err != nil {
		return err
	}
	d.publish(ctx, pending)
	return nil
}

// ListCollectionNames returns the database's collection names in sorted order
func (d *DB) ListCollectionNames(ctx context.Context, db string) ([]string, error) {
	return d.store.ListCollectionNames(db), nil
}

// ListDatabaseNames returns the known database names in sorted order
func (d *DB) ListDatabaseNames(ctx context.Context) ([]string, error) {
	return d.store.ListDatabaseNames(), nil
}

// Watch opens a change stream. With an empty coll the stream covers the whole
// database; with an empty db it covers the deployment. The pipeline may hold
// $match and $project stages evaluated against each event.
func (d *DB) Watch(ctx context.Context, db, coll string, pipeline Documents, opts *WatchOptions) (*ChangeStream, error) {
	if opts == nil {
		opts = &WatchOptions{}
	}
	if err := util.ValidateStruct(opts); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid watch options")
	}
	match, project, err := watchPipeline(pipeline)
	if err != nil {
		return nil, err
	}
	seq := d.changes.lastSeq()
	if opts.ResumeAfter != "" {
		seq, err = parseToken(opts.ResumeAfter)
		if err != nil {
			return nil, err
		}
		if seq > d.changes.lastSeq() {
			return nil, errors.New(errors.Validation, "unknown resume token: %s", opts.ResumeAfter)
		}
		if !d.changes.resumable(seq) {
			return nil, errors.New(errors.CursorNotFound, "resume token is no longer retained: %s", opts.ResumeAfter)
		}
	}
	fullDoc := opts.FullDocument
	if fullDoc == "" {
		fullDoc = FullDocumentDefault
	}
	sctx, cancel := context.WithCancel(context.Background())
	cs := &ChangeStream{
		db:      d,
		scope:   Namespace{DB: db, Coll: coll},
		match:   match,
		project: project,
		fullDoc: fullDoc,
		notify:  make(chan struct{}, 1),
		cancel:  cancel,
		nextSeq: seq,
	}
	d.machine.Go(sctx, func(ctx context.Context) error {
		err := d.machine.Subscribe(ctx, changeChannel, func(ctx context.Context, msg machine.Message) (bool, error) {
			select {
			case cs.notify <- struct{}{}:
			default:
			}
			return true, nil
		})
		close(cs.notify)
		return err
	})
	return cs, nil
}

// watchPipeline splits a change stream pipeline into its $match and $project stages
func watchPipeline(pipeline Documents) (*Document, *Document, error) {
	var match, project *Document
	for _, stage := range pipeline {
		entries := objectEntries(stage.result)
		if len(entries) != 1 {
			return nil, nil, errors.New(errors.Validation, "each pipeline stage must hold exactly one operator")
		}
		arg, err := NewDocumentFromBytes([]byte(entries[0].value.Raw))
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.Validation, "invalid %s stage", entries[0].key)
		}
		switch entries[0].key {
		case "$match":
			match = arg
		case "$project":
			project = arg
		default:
			return nil, nil, errors.New(errors.UnsupportedOperator, "unsupported change stream stage: %s", entries[0].key)
		}
	}
	return match, project, nil
}

// sortFieldsFrom parses an optional sort specification document
func sortFieldsFrom(sort *Document) ([]SortField, error) {
	if sort == nil {
		return nil, nil
	}
	return sortFieldsFromDocument(sort.result)
}
