package mongomock

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dot-do/mongomock/errors"
)

const changeChannel = "cdc"

// Namespace identifies the database and collection an event belongs to
type Namespace struct {
	DB   string `json:"db"`
	Coll string `json:"coll"`
}

// UpdateDescription describes the field level changes of an update event
type UpdateDescription struct {
	UpdatedFields *Document `json:"updatedFields"`
	RemovedFields []string  `json:"removedFields"`
}

// ChangeEvent is a single entry in a change stream
type ChangeEvent struct {
	// ID is the resume token of the event
	ID string `json:"_id"`
	// OperationType is one of insert, update, replace, delete, drop, dropDatabase, rename
	OperationType string    `json:"operationType"`
	ClusterTime   time.Time `json:"clusterTime"`
	Ns            Namespace `json:"ns"`
	// DocumentKey holds the _id of the affected document
	DocumentKey *Document `json:"documentKey,omitempty"`
	// FullDocument is the post-image for inserts and replaces. For updates it is
	// only populated when the stream requested updateLookup.
	FullDocument      *Document          `json:"fullDocument,omitempty"`
	UpdateDescription *UpdateDescription `json:"updateDescription,omitempty"`

	seq uint64
}

func tokenFor(seq uint64) string {
	return fmt.Sprintf("%016x", seq)
}

func parseToken(token string) (uint64, error) {
	seq, err := strconv.ParseUint(token, 16, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.Validation, "malformed resume token: %s", token)
	}
	return seq, nil
}

// changeLog is the ordered, capacity bounded record of committed change events.
// The log, not the pubsub fanout, is the source of truth for resumption.
type changeLog struct {
	mu       sync.RWMutex
	events   []ChangeEvent
	seq      uint64
	capacity int
}

func newChangeLog(capacity int) *changeLog {
	return &changeLog{capacity: capacity}
}

func (l *changeLog) append(ev ChangeEvent) ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ev.seq = l.seq
	ev.ID = tokenFor(l.seq)
	l.events = append(l.events, ev)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
	return ev
}

// since returns every retained event with a sequence greater than seq
func (l *changeLog) since(seq uint64) []ChangeEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, ev := range l.events {
		if ev.seq > seq {
			out := make([]ChangeEvent, len(l.events)-i)
			copy(out, l.events[i:])
			return out
		}
	}
	return nil
}

func (l *changeLog) lastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// resumable reports whether every event after seq is still retained
func (l *changeLog) resumable(seq uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= l.seq {
		return true
	}
	return len(l.events) > 0 && l.events[0].seq <= seq+1
}

// ChangeStream is a handle for iterating committed change events in commit order
type ChangeStream struct {
	db      *DB
	scope   Namespace
	match   *Document
	project *Document
	fullDoc string
	notify  chan struct{}
	cancel  context.CancelFunc
	mu      sync.Mutex
	nextSeq uint64
	current *ChangeEvent
	token   string
	err     error
	closed  bool
}

func (cs *ChangeStream) matches(ev *ChangeEvent) (bool, error) {
	if cs.scope.DB != "" && ev.Ns.DB != cs.scope.DB {
		return false, nil
	}
	if cs.scope.Coll != "" && ev.Ns.Coll != cs.scope.Coll {
		return false, nil
	}
	if cs.match == nil {
		return true, nil
	}
	doc, err := NewDocumentFrom(ev)
	if err != nil {
		return false, err
	}
	return doc.Matches(cs.match)
}

// Next blocks until the next matching event is available, the context is
// cancelled, or the stream is closed. It returns false once no further events
// will be delivered; Err reports why.
func (cs *ChangeStream) Next(ctx context.Context) bool {
	for {
		cs.mu.Lock()
		if cs.closed {
			cs.err = errors.New(errors.CursorNotFound, "change stream is closed")
			cs.mu.Unlock()
			return false
		}
		events := cs.db.changes.since(cs.nextSeq)
		for _, ev := range events {
			cs.nextSeq = ev.seq
			ok, err := cs.matches(&ev)
			if err != nil {
				cs.err = err
				cs.mu.Unlock()
				return false
			}
			if !ok {
				continue
			}
			current, err := cs.materialize(ev)
			if err != nil {
				cs.err = err
				cs.mu.Unlock()
				return false
			}
			cs.current = current
			cs.token = tokenFor(ev.seq)
			cs.mu.Unlock()
			return true
		}
		cs.mu.Unlock()
		// the pubsub wakeup is best effort: the log re-poll below covers a
		// publish that lands between the drain above and this wait
		timer := time.NewTimer(50 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			cs.mu.Lock()
			cs.err = ctx.Err()
			cs.mu.Unlock()
			return false
		case _, ok := <-cs.notify:
			timer.Stop()
			if !ok {
				cs.mu.Lock()
				cs.err = errors.New(errors.CursorNotFound, "change stream is closed")
				cs.mu.Unlock()
				return false
			}
		case <-timer.C:
		}
	}
}

// materialize applies the stream's fullDocument mode and $project stage to a
// raw log entry
func (cs *ChangeStream) materialize(ev ChangeEvent) (*ChangeEvent, error) {
	if ev.OperationType == "update" && (cs.fullDoc == FullDocumentUpdateLookup || cs.fullDoc == FullDocumentRequired) {
		key := ""
		if ev.DocumentKey != nil {
			key = ev.DocumentKey.get(idField).Raw
		}
		doc, ok := cs.db.store.GetByID(ev.Ns.DB, ev.Ns.Coll, key)
		if ok {
			ev.FullDocument = doc
		} else if cs.fullDoc == FullDocumentRequired {
			return nil, errors.New(errors.Validation, "fullDocument is required but the document %s no longer exists", key)
		}
	}
	if cs.project == nil {
		return &ev, nil
	}
	doc, err := NewDocumentFrom(ev)
	if err != nil {
		return nil, err
	}
	projected, err := projectDocument(doc, cs.project)
	if err != nil {
		return nil, err
	}
	var out ChangeEvent
	if err := json.Unmarshal(projected.Bytes(), &out); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to project change event")
	}
	out.seq = ev.seq
	return &out, nil
}

// Current returns the event positioned by the last successful Next
func (cs *ChangeStream) Current() *ChangeEvent {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.current
}

// Decode decodes the current event into val
func (cs *ChangeStream) Decode(val any) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.current == nil {
		return errors.New(errors.Validation, "change stream is not positioned on an event")
	}
	if ce, ok := val.(*ChangeEvent); ok {
		*ce = *cs.current
		return nil
	}
	doc, err := NewDocumentFrom(cs.current)
	if err != nil {
		return err
	}
	return doc.Scan(val)
}

// ResumeToken returns the token of the current event, usable as ResumeAfter on
// a later Watch call. The token comes from the committed log entry, so it
// survives a $project stage that strips _id from the delivered event.
func (cs *ChangeStream) ResumeToken() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.token
}

// Err returns the error that terminated iteration, if any
func (cs *ChangeStream) Err() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.err
}

// Close stops the stream. Events committed while the stream is closed are
// still resumable via ResumeToken.
func (cs *ChangeStream) Close(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return nil
	}
	cs.closed = true
	cs.cancel()
	return nil
}

func insertEvent(db, coll string, doc *Document) ChangeEvent {
	return ChangeEvent{
		OperationType: "insert",
		ClusterTime:   time.Now(),
		Ns:            Namespace{DB: db, Coll: coll},
		DocumentKey:   documentKey(doc),
		FullDocument:  doc,
	}
}

func updateEvent(db, coll string, before, after *Document) ChangeEvent {
	return ChangeEvent{
		OperationType:     "update",
		ClusterTime:       time.Now(),
		Ns:                Namespace{DB: db, Coll: coll},
		DocumentKey:       documentKey(after),
		UpdateDescription: describeUpdate(before, after),
	}
}

func replaceEvent(db, coll string, doc *Document) ChangeEvent {
	return ChangeEvent{
		OperationType: "replace",
		ClusterTime:   time.Now(),
		Ns:            Namespace{DB: db, Coll: coll},
		DocumentKey:   documentKey(doc),
		FullDocument:  doc,
	}
}

func deleteEvent(db, coll string, doc *Document) ChangeEvent {
	return ChangeEvent{
		OperationType: "delete",
		ClusterTime:   time.Now(),
		Ns:            Namespace{DB: db, Coll: coll},
		DocumentKey:   documentKey(doc),
	}
}

func dropEvent(db, coll string) ChangeEvent {
	return ChangeEvent{
		OperationType: "drop",
		ClusterTime:   time.Now(),
		Ns:            Namespace{DB: db, Coll: coll},
	}
}

func dropDatabaseEvent(db string) ChangeEvent {
	return ChangeEvent{
		OperationType: "dropDatabase",
		ClusterTime:   time.Now(),
		Ns:            Namespace{DB: db},
	}
}

func renameEvent(db, from, to string) ChangeEvent {
	ev := ChangeEvent{
		OperationType: "rename",
		ClusterTime:   time.Now(),
		Ns:            Namespace{DB: db, Coll: from},
	}
	ev.FullDocument, _ = NewDocumentFrom(map[string]any{
		"to": map[string]any{"db": db, "coll": to},
	})
	return ev
}

func documentKey(doc *Document) *Document {
	key := NewDocument()
	_ = key.set(idField, doc.get(idField))
	return key
}

// describeUpdate turns a before/after pair into mongo style updatedFields and
// removedFields
func describeUpdate(before, after *Document) *UpdateDescription {
	desc := &UpdateDescription{
		UpdatedFields: NewDocument(),
		RemovedFields: []string{},
	}
	for _, change := range after.Diff(before) {
		switch change.Op {
		case Add, Replace:
			_ = desc.UpdatedFields.Set(change.Path, change.Value)
		case Remove:
			desc.RemovedFields = append(desc.RemovedFields, change.Path)
		}
	}
	return desc
}
