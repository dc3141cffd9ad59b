// Package content runs content operations against the loaded store.
package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/data/docstore"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const (
	msgCompoundOptions = "Attempted to perform a compound operation with invalid options."
	msgCompoundType    = "Attempted to perform a compound operation with an invalid compound type."

	msgQueryObject     = "Attempted to query documents without a valid query object."
	msgQueryCollection = "Attempted to query for documents with an unspecified collection."
	msgQueryMissing    = "Attempted to query document(s) from a non-existent collection."
	msgQueryType       = "Attempted to query for documents with an invalid query type."

	msgResultSetActions    = "Attempted to perform result set actions without a valid list of actions."
	msgResultSetCollection = "Attempted to perform result set actions for an unspecified collection."
	msgResultSetMissing    = "Attempted to perform result set actions for a non-existent collection."
	msgResultSetArgs       = "Attempted to perform result set actions with invalid arguments."
	msgResultSetType       = "Attempted to perform result set actions with an invalid action type."

	msgInsertData    = "Attempted to insert invalid data."
	msgInsertMissing = "Attempted to insert document(s) into a non-existent collection."
	msgUpdateData    = "Attempted to update invalid data."
	msgUpdateMissing = "Attempted to update document(s) in a non-existent collection."
	msgRemoveFilter  = "Attempted to remove documents without a valid filter object."
	msgRemoveMissing = "Attempted to remove document(s) from a non-existent collection."
)

// Query types.
const (
	QueryGet         = "get"
	QueryBy          = "by"
	QueryFind        = "find"
	QueryFindObject  = "findObject"
	QueryFindObjects = "findObjects"
	QueryFindOne     = "findOne"
)

// Result set action types.
const (
	ActionFind         = "find"
	ActionWhere        = "where"
	ActionSort         = "sort"
	ActionSimpleSort   = "simpleSort"
	ActionCompoundSort = "compoundSort"
	ActionUpdate       = "update"
	ActionRemove       = "remove"
	ActionLimit        = "limit"
	ActionOffset       = "offset"

	// ActionInsert only appears in change alerts.
	ActionInsert = "insert"
)

// Store is the part of the DataStore content operations need. Acquire
// waits for the store to be available and keeps load and save out until
// release is called.
type Store interface {
	Acquire(ctx context.Context) (release func(), err error)
	Collection(name string) *docstore.Collection
	MarkModified()
}

// Change is the payload of content change alerts.
type Change struct {
	Collection string `json:"collection"`
	Action     string `json:"action"`
}

// Request payloads, as decoded from the wire.
type (
	CompoundRequest  = protocol.CompoundRequest
	QueryRequest     = protocol.QueryRequest
	ResultSetRequest = protocol.ResultSetRequest
	Action           = protocol.Action
	DocumentRequest  = protocol.DocumentRequest
)

// Service dispatches content requests. Every operation waits for the
// store to be available before validating its options.
type Service struct {
	store  Store
	bus    *alert.Bus
	logger *logrus.Entry
}

// New creates a content service publishing change alerts on bus.
func New(store Store, bus *alert.Bus) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logging.NewLogger("content"),
	}
}

// Handle runs one content request and returns its response payload.
func (s *Service) Handle(ctx context.Context, requestType string, payload json.RawMessage) (interface{}, error) {
	release, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var raw map[string]interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, errors.InvalidPayload()
		}
	}

	switch requestType {
	case protocol.ContentCompound:
		var req CompoundRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return s.Compound(req)
	case protocol.ContentQuery:
		var req QueryRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return s.Query(req)
	case protocol.ContentResultSet:
		var req ResultSetRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return s.ResultSet(req)
	case protocol.ContentInsert:
		var req DocumentRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return s.Insert(req)
	case protocol.ContentUpdate:
		var req DocumentRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, s.Update(req)
	case protocol.ContentRemove:
		var req DocumentRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, s.Remove(req)
	}
	return nil, errors.InvalidPayload()
}

func decode(raw map[string]interface{}, out interface{}) error {
	if err := mapstructure.Decode(raw, out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidPayload, "Invalid Payload.")
	}
	return nil
}

// Compound validates the options of a compound operation. No compound
// types are registered.
func (s *Service) Compound(req CompoundRequest) (interface{}, error) {
	if _, ok := req.Options.(map[string]interface{}); !ok {
		return nil, errors.InvalidArgument(msgCompoundOptions)
	}
	return nil, errors.InvalidArgument(msgCompoundType).WithDetail("type", req.Type)
}

// Query runs a single query against a collection.
func (s *Service) Query(req QueryRequest) (interface{}, error) {
	options, ok := req.Options.(map[string]interface{})
	if !ok {
		return nil, errors.InvalidArgument(msgQueryObject)
	}
	name, ok := req.Collection.(string)
	if !ok {
		return nil, errors.InvalidArgument(msgQueryCollection)
	}
	coll := s.store.Collection(name)
	if coll == nil {
		return nil, errors.CollectionNotFound(msgQueryMissing, name)
	}

	typ, _ := req.Type.(string)
	switch typ {
	case QueryGet:
		rawID, ok := options["id"]
		if !ok {
			return nil, errors.InvalidArgument(msgQueryObject)
		}
		id, ok := toInt(rawID)
		if !ok {
			return nil, nil
		}
		if doc, found := coll.Get(id); found {
			return doc, nil
		}
		return nil, nil
	case QueryBy:
		field, hasField := options["field"].(string)
		value, hasValue := options["value"]
		if !hasField || !hasValue {
			return nil, errors.InvalidArgument(msgQueryObject)
		}
		if doc, found := coll.By(field, value); found {
			return doc, nil
		}
		return nil, nil
	case QueryFind:
		return coll.Find(docstore.Query(options))
	case QueryFindObject:
		return coll.FindObject(options)
	case QueryFindObjects:
		return coll.FindObjects(options)
	case QueryFindOne:
		return coll.FindOne(docstore.Query(options))
	}
	return nil, errors.InvalidArgument(msgQueryType).WithDetail("type", req.Type)
}

// ResultSet runs an ordered pipeline of actions over a collection and
// returns the documents left in the set.
func (s *Service) ResultSet(req ResultSetRequest) (interface{}, error) {
	list, ok := req.Actions.([]interface{})
	if !ok {
		return nil, errors.InvalidArgument(msgResultSetActions)
	}
	name, ok := req.Collection.(string)
	if !ok {
		return nil, errors.InvalidArgument(msgResultSetCollection)
	}
	coll := s.store.Collection(name)
	if coll == nil {
		return nil, errors.CollectionNotFound(msgResultSetMissing, name)
	}

	rs := coll.Chain()
	removed := false
	for _, item := range list {
		var action Action
		if err := mapstructure.Decode(item, &action); err != nil {
			return nil, errors.InvalidArgument(msgResultSetArgs)
		}
		args, ok := action.Args.([]interface{})
		if !ok {
			return nil, errors.InvalidArgument(msgResultSetArgs)
		}

		typ, _ := action.Type.(string)
		var err error
		switch typ {
		case ActionFind:
			err = applyFind(rs, args)
		case ActionSimpleSort:
			err = applySimpleSort(rs, args)
		case ActionCompoundSort:
			err = applyCompoundSort(rs, args)
		case ActionLimit:
			err = applyCount(args, func(n int) { rs.Limit(n) })
		case ActionOffset:
			err = applyCount(args, func(n int) { rs.Offset(n) })
		case ActionRemove:
			if err = rs.Remove(); err == nil {
				removed = true
			}
		case ActionWhere, ActionSort, ActionUpdate:
			return nil, errors.UnsupportedAction(typ)
		default:
			return nil, errors.InvalidArgument(msgResultSetType).WithDetail("type", action.Type)
		}
		if err != nil {
			return nil, err
		}
	}

	if removed {
		s.changed(name, ActionRemove)
	}
	return rs.Data()
}

func applyFind(rs *docstore.ResultSet, args []interface{}) error {
	if len(args) == 0 || args[0] == nil {
		return nil
	}
	q, ok := args[0].(map[string]interface{})
	if !ok {
		return errors.InvalidArgument(msgResultSetArgs)
	}
	rs.Find(docstore.Query(q))
	return rs.Err()
}

func applySimpleSort(rs *docstore.ResultSet, args []interface{}) error {
	if len(args) == 0 {
		return errors.InvalidArgument(msgResultSetArgs)
	}
	field, ok := args[0].(string)
	if !ok {
		return errors.InvalidArgument(msgResultSetArgs)
	}
	desc := false
	if len(args) > 1 {
		desc, _ = args[1].(bool)
	}
	rs.SimpleSort(field, desc)
	return nil
}

// applyCompoundSort accepts ["a", ["b", true]]: a plain name sorts
// ascending, a pair carries the descending flag.
func applyCompoundSort(rs *docstore.ResultSet, args []interface{}) error {
	if len(args) == 0 {
		return errors.InvalidArgument(msgResultSetArgs)
	}
	props, ok := args[0].([]interface{})
	if !ok {
		return errors.InvalidArgument(msgResultSetArgs)
	}
	keys := make([]docstore.SortKey, 0, len(props))
	for _, p := range props {
		switch v := p.(type) {
		case string:
			keys = append(keys, docstore.SortKey{Field: v})
		case []interface{}:
			if len(v) == 0 {
				return errors.InvalidArgument(msgResultSetArgs)
			}
			field, ok := v[0].(string)
			if !ok {
				return errors.InvalidArgument(msgResultSetArgs)
			}
			key := docstore.SortKey{Field: field}
			if len(v) > 1 {
				key.Descending, _ = v[1].(bool)
			}
			keys = append(keys, key)
		default:
			return errors.InvalidArgument(msgResultSetArgs)
		}
	}
	rs.CompoundSort(keys)
	return nil
}

func applyCount(args []interface{}, apply func(n int)) error {
	if len(args) == 0 {
		return errors.InvalidArgument(msgResultSetArgs)
	}
	n, ok := toInt(args[0])
	if !ok {
		return errors.InvalidArgument(msgResultSetArgs)
	}
	apply(n)
	return nil
}

// Insert adds one document or an array of documents and returns what was
// stored, in the same shape.
func (s *Service) Insert(req DocumentRequest) (interface{}, error) {
	docs, single, ok := documents(req.Document)
	if !ok {
		return nil, errors.InvalidArgument(msgInsertData)
	}
	name, _ := req.Collection.(string)
	coll := s.store.Collection(name)
	if coll == nil {
		return nil, errors.CollectionNotFound(msgInsertMissing, name)
	}

	inserted, err := coll.Insert(docs...)
	if err != nil {
		return nil, err
	}
	s.changed(name, ActionInsert)
	if single {
		return inserted[0], nil
	}
	return inserted, nil
}

// Update replaces one document or an array of documents by id.
func (s *Service) Update(req DocumentRequest) error {
	docs, _, ok := documents(req.Document)
	if !ok {
		return errors.InvalidArgument(msgUpdateData)
	}
	name, _ := req.Collection.(string)
	coll := s.store.Collection(name)
	if coll == nil {
		return errors.CollectionNotFound(msgUpdateMissing, name)
	}

	if _, err := coll.Update(docs...); err != nil {
		return err
	}
	s.changed(name, ActionUpdate)
	return nil
}

// Remove deletes every document matching the filter.
func (s *Service) Remove(req DocumentRequest) error {
	filter, ok := req.Document.(map[string]interface{})
	if !ok {
		return errors.InvalidArgument(msgRemoveFilter)
	}
	name, _ := req.Collection.(string)
	coll := s.store.Collection(name)
	if coll == nil {
		return errors.CollectionNotFound(msgRemoveMissing, name)
	}

	n, err := coll.RemoveWhere(docstore.Query(filter))
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"collection": name, "removed": n}).Debug("Removed documents")
	s.changed(name, ActionRemove)
	return nil
}

func (s *Service) changed(collection, action string) {
	s.store.MarkModified()
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(protocol.AlertContentChange, Change{Collection: collection, Action: action}, false, false); err != nil {
		s.logger.WithError(err).Warn("Failed to publish content change")
	}
}

// documents accepts an object or an array of objects.
func documents(v interface{}) (docs []map[string]interface{}, single, ok bool) {
	switch d := v.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{d}, true, true
	case []interface{}:
		for _, item := range d {
			doc, isDoc := item.(map[string]interface{})
			if !isDoc {
				return nil, false, false
			}
			docs = append(docs, doc)
		}
		return docs, false, true
	}
	return nil, false, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
