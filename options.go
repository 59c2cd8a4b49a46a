package mongomock

// ReturnDocument selects which image findOneAndUpdate and findOneAndReplace return
type ReturnDocument string

const (
	// ReturnBefore returns the document as it was before the mutation
	ReturnBefore ReturnDocument = "before"
	// ReturnAfter returns the document after the mutation was applied
	ReturnAfter ReturnDocument = "after"
)

// FullDocument modes for change streams
const (
	// FullDocumentDefault omits fullDocument on update events
	FullDocumentDefault = "default"
	// FullDocumentUpdateLookup resolves the document's current state when the
	// update event is read, which may be newer than the event itself
	FullDocumentUpdateLookup = "updateLookup"
	// FullDocumentRequired is updateLookup that fails the stream when the
	// document no longer exists at read time
	FullDocumentRequired = "required"
)

// FindOptions modify find
type FindOptions struct {
	// Sort is a sort specification document, for example {"age": -1}
	Sort *Document `json:"sort,omitempty"`
	// Skip discards the first n sorted matches
	Skip int64 `json:"skip,omitempty" validate:"min=0"`
	// Limit caps the result set after skip. Zero means no limit.
	Limit int64 `json:"limit,omitempty" validate:"min=0"`
	// Projection selects the fields of each returned document
	Projection *Document `json:"projection,omitempty"`
	// BatchSize caps the first batch. Zero uses the engine default.
	BatchSize int `json:"batchSize,omitempty" validate:"min=0"`
}

// CountOptions modify countDocuments
type CountOptions struct {
	Skip  int64 `json:"skip,omitempty" validate:"min=0"`
	Limit int64 `json:"limit,omitempty" validate:"min=0"`
}

// InsertManyOptions modify insertMany
type InsertManyOptions struct {
	// Ordered stops at the first failed insert when true. Defaults to true.
	Ordered *bool `json:"ordered,omitempty"`
}

func (o *InsertManyOptions) ordered() bool {
	if o == nil || o.Ordered == nil {
		return true
	}
	return *o.Ordered
}

// UpdateOptions modify updateOne, updateMany and replaceOne
type UpdateOptions struct {
	// Upsert inserts a synthesized document when no document matches the filter
	Upsert bool `json:"upsert,omitempty"`
}

// FindOneAndModifyOptions modify findOneAndUpdate, findOneAndReplace and
// findOneAndDelete. ReturnDocument and Upsert are ignored by findOneAndDelete.
type FindOneAndModifyOptions struct {
	Upsert bool `json:"upsert,omitempty"`
	// ReturnDocument selects the pre or post image. Defaults to ReturnBefore.
	ReturnDocument ReturnDocument `json:"returnDocument,omitempty" validate:"omitempty,oneof='before' 'after'"`
	// Sort breaks ties when the filter matches more than one document
	Sort       *Document `json:"sort,omitempty"`
	Projection *Document `json:"projection,omitempty"`
}

// AggregateOptions modify aggregate
type AggregateOptions struct {
	// BatchSize caps the first batch. Zero uses the engine default.
	BatchSize int `json:"batchSize,omitempty" validate:"min=0"`
}

// IndexOptions modify createIndex
type IndexOptions struct {
	// Name overrides the derived index name
	Name string `json:"name,omitempty"`
	// Unique records the index as unique. Only _id uniqueness is enforced.
	Unique bool `json:"unique,omitempty"`
}

// CreateCollectionOptions modify createCollection
type CreateCollectionOptions struct {
	// Validator is a json schema, in json or yaml form, enforced on insert and replace
	Validator []byte `json:"validator,omitempty"`
}

// WatchOptions modify watch
type WatchOptions struct {
	// ResumeAfter replays retained events committed after the given resume token
	ResumeAfter string `json:"resumeAfter,omitempty"`
	// FullDocument is FullDocumentDefault, FullDocumentUpdateLookup, or
	// FullDocumentRequired
	FullDocument string `json:"fullDocument,omitempty" validate:"omitempty,oneof='default' 'updateLookup' 'required'"`
}
