package mongomock

// InsertOneResult is returned by InsertOne
type InsertOneResult struct {
	// InsertedID is the _id of the stored document, generated when the input had none
	InsertedID any `json:"insertedId"`
}

// InsertManyResult is returned by InsertMany. On partial failure it reflects
// the documents that were stored before (ordered) or despite (unordered) the error.
type InsertManyResult struct {
	InsertedCount int `json:"insertedCount"`
	// InsertedIDs maps input position to stored _id
	InsertedIDs map[int]any `json:"insertedIds"`
}

// UpdateResult is returned by UpdateOne, UpdateMany and ReplaceOne
type UpdateResult struct {
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	// UpsertedCount is 1 when an upsert inserted a document, 0 otherwise
	UpsertedCount int64 `json:"upsertedCount"`
	// UpsertedID is set when an upsert inserted a document
	UpsertedID any `json:"upsertedId,omitempty"`
}

// DeleteResult is returned by DeleteOne and DeleteMany
type DeleteResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

// FindResult is one batch of a find or aggregate result set. A non empty
// CursorID means more batches are available through GetMore.
type FindResult struct {
	Batch    Documents `json:"batch"`
	CursorID string    `json:"cursorId,omitempty"`
}
