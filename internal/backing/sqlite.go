package backing

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/trellis/api"
)

// SQLiteStore is the round-trip-per-call reference backing: every Fetch,
// SetValue, Insert and Remove is at least one SQL query. It stands in for a
// live remote store in tests and the CLI while exercising real push-down —
// filters become json_extract conditions, sort becomes ORDER BY, pagination
// becomes LIMIT/OFFSET.
//
// Layout: one row per collection element. The row's doc column holds the
// element's scalar fields (ojg-encoded JSON); child collections are rows of
// their own, keyed by a path prefix. The colls column lists which property
// names are collections so empty collections stay distinguishable from
// absent scalar fields.
type SQLiteStore struct {
	db *sql.DB

	NameField string
	IDField   string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	path   TEXT PRIMARY KEY,
	parent TEXT NOT NULL,
	ord    INTEGER NOT NULL,
	doc    TEXT NOT NULL,
	colls  TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS nodes_parent ON nodes(parent, ord);
`

// OpenSQLiteStore opens (or creates) a store at dbPath. Use ":memory:" for
// a throwaway store.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Single connection: the store is single-caller by contract, and one
	// connection keeps ":memory:" databases from splitting per-connection.
	db.SetMaxOpenConns(1)
	// LIKE must match the case-sensitive in-memory replay semantics.
	if _, err := db.Exec(`PRAGMA case_sensitive_like = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create nodes table: %w", err)
	}
	return &SQLiteStore{db: db, NameField: "name", IDField: "id"}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// KeyFields implements Keyed.
func (s *SQLiteStore) KeyFields() (string, string) { return s.IDField, s.NameField }

// Load seeds the store from a parsed data tree (maps and slices). Slice
// properties become child collections; everything else stays in the doc.
func (s *SQLiteStore) Load(root any) error {
	m, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("seed root must be an object, got %T", root)
	}
	if _, err := s.db.Exec(`DELETE FROM nodes`); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}
	return s.insertElement("$", "", 0, m)
}

// insertElement writes one element row and recurses into its collections.
func (s *SQLiteStore) insertElement(path, parent string, ord int, elem map[string]any) error {
	doc := make(map[string]any, len(elem))
	var colls []string
	for k, v := range elem {
		if l, ok := v.([]any); ok {
			colls = append(colls, k)
			collPath := path + "/" + k
			for i, child := range l {
				cm, ok := child.(map[string]any)
				if !ok {
					return fmt.Errorf("collection %s element %d is not an object", collPath, i)
				}
				if err := s.insertElement(collPath+"/"+s.elementKey(cm), collPath, i, cm); err != nil {
					return err
				}
			}
			continue
		}
		doc[k] = v
	}
	_, err := s.db.Exec(
		`INSERT INTO nodes (path, parent, ord, doc, colls) VALUES (?, ?, ?, ?, ?)`,
		path, parent, ord, oj.JSON(doc), oj.JSON(colls),
	)
	if err != nil {
		return fmt.Errorf("insert element %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) elementKey(elem map[string]any) string {
	if id, ok := elem[s.IDField]; ok {
		return stringify(id)
	}
	if name, ok := elem[s.NameField].(string); ok {
		return name
	}
	return uuid.NewString()
}

// position is the walk state while translating api segments into rows.
type position struct {
	kind  posKind
	path  string         // element or collection storage path
	value any            // in-doc value (posValue only)
	doc   map[string]any // cached element doc (posElem only)
	colls []string       // cached collection names (posElem only)
	owner string         // path of the element row holding the value (posValue only)
	keys  []string       // property chain from the owner's doc to the value (posValue only)
}

type posKind int

const (
	posElem posKind = iota
	posColl
	posValue
)

func (s *SQLiteStore) walk(path []api.Segment) (position, error) {
	if len(path) == 0 || path[0].Kind != api.SegRoot {
		return position{}, fmt.Errorf("path must start at a root segment")
	}
	cur := position{kind: posElem, path: "$"}
	for _, seg := range path[1:] {
		next, err := s.stepPos(cur, seg)
		if err != nil {
			return position{}, err
		}
		cur = next
	}
	return cur, nil
}

func (s *SQLiteStore) stepPos(cur position, seg api.Segment) (position, error) {
	switch cur.kind {
	case posElem:
		if seg.Kind != api.SegProp {
			return position{}, fmt.Errorf("%v address on an element: %w", seg.Kind, api.ErrNotCollection)
		}
		doc, colls, err := s.elementDoc(cur.path)
		if err != nil {
			return position{}, err
		}
		for _, c := range colls {
			if c == seg.Name {
				return position{kind: posColl, path: cur.path + "/" + seg.Name}, nil
			}
		}
		if v, ok := doc[seg.Name]; ok {
			return position{kind: posValue, value: v, owner: cur.path, keys: []string{seg.Name}}, nil
		}
		return position{}, fmt.Errorf("property %q not present: %w", seg.Name, api.ErrNotFound)

	case posColl:
		var row *sql.Row
		switch seg.Kind {
		case api.SegIndex:
			row = s.db.QueryRow(
				`SELECT path FROM nodes WHERE parent = ? ORDER BY ord LIMIT 1 OFFSET ?`,
				cur.path, seg.Index,
			)
		case api.SegName:
			row = s.db.QueryRow(
				`SELECT path FROM nodes WHERE parent = ?
				 AND CAST(json_extract(doc, '$.' || ?) AS TEXT) = ? ORDER BY ord LIMIT 1`,
				cur.path, s.NameField, seg.Value,
			)
		case api.SegID:
			row = s.db.QueryRow(
				`SELECT path FROM nodes WHERE parent = ?
				 AND CAST(json_extract(doc, '$.' || ?) AS TEXT) = ? ORDER BY ord LIMIT 1`,
				cur.path, s.IDField, seg.Value,
			)
		default:
			return position{}, fmt.Errorf("property %q on a collection: %w", seg.Name, api.ErrNotFound)
		}
		var p string
		if err := row.Scan(&p); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return position{}, fmt.Errorf("element %s: %w", segText(seg), api.ErrNotFound)
			}
			return position{}, fmt.Errorf("select element: %w", err)
		}
		return position{kind: posElem, path: p}, nil

	case posValue:
		if seg.Kind == api.SegProp {
			m, ok := cur.value.(map[string]any)
			if !ok {
				return position{}, fmt.Errorf("property %q: parent is not an object: %w", seg.Name, api.ErrNotFound)
			}
			v, ok := m[seg.Name]
			if !ok {
				return position{}, fmt.Errorf("property %q not present: %w", seg.Name, api.ErrNotFound)
			}
			keys := append(append([]string(nil), cur.keys...), seg.Name)
			return position{kind: posValue, value: v, owner: cur.owner, keys: keys}, nil
		}
		return position{}, fmt.Errorf("%v address on a scalar: %w", seg.Kind, api.ErrNotCollection)
	}
	return position{}, fmt.Errorf("bad walk state")
}

func segText(seg api.Segment) string {
	switch seg.Kind {
	case api.SegIndex:
		return "[" + strconv.Itoa(seg.Index) + "]"
	case api.SegProp:
		return seg.Name
	}
	return seg.Value
}

func (s *SQLiteStore) elementDoc(path string) (map[string]any, []string, error) {
	var docStr, collsStr string
	err := s.db.QueryRow(`SELECT doc, colls FROM nodes WHERE path = ?`, path).Scan(&docStr, &collsStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, api.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("select element %s: %w", path, err)
	}
	docAny, err := oj.ParseString(docStr)
	if err != nil {
		return nil, nil, fmt.Errorf("decode doc %s: %w", path, err)
	}
	doc, ok := docAny.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("doc %s is not an object", path)
	}
	var colls []string
	collsAny, err := oj.ParseString(collsStr)
	if err != nil {
		return nil, nil, fmt.Errorf("decode colls %s: %w", path, err)
	}
	if l, ok := collsAny.([]any); ok {
		for _, c := range l {
			if cs, ok := c.(string); ok {
				colls = append(colls, cs)
			}
		}
	}
	return doc, colls, nil
}

// Fetch implements Store. Collection queries push the whole algebra down to
// SQL; nothing here ever declines with ErrPushDown.
func (s *SQLiteStore) Fetch(path []api.Segment, qs api.QueryState) (any, error) {
	pos, err := s.walk(path)
	if err != nil {
		return nil, err
	}
	switch pos.kind {
	case posValue:
		return pos.value, nil
	case posElem:
		doc, _, err := s.elementDoc(pos.path)
		if err != nil {
			return nil, err
		}
		return doc, nil
	case posColl:
		return s.fetchCollection(pos.path, qs)
	}
	return nil, fmt.Errorf("bad walk state")
}

func (s *SQLiteStore) fetchCollection(collPath string, qs api.QueryState) ([]any, error) {
	var b strings.Builder
	b.WriteString(`SELECT doc FROM nodes WHERE parent = ?`)
	args := []any{collPath}

	fields := make([]string, 0, len(qs.Filter))
	for f := range qs.Filter {
		fields = append(fields, f)
	}
	// Deterministic statement text keeps the prepared-statement cache warm.
	sort.Strings(fields)
	for _, f := range fields {
		pred := qs.Filter[f]
		switch pred.Op {
		case api.OpEq:
			// The text comparison alongside the typed one gives equality the
			// same string/number coercion as the in-memory replay.
			b.WriteString(` AND (json_extract(doc, '$.' || ?) = ? OR CAST(json_extract(doc, '$.' || ?) AS TEXT) = ?)`)
			args = append(args, f, pred.Value, f, stringify(pred.Value))
		case api.OpGT:
			b.WriteString(` AND json_extract(doc, '$.' || ?) > ?`)
			args = append(args, f, pred.Value)
		case api.OpLT:
			b.WriteString(` AND json_extract(doc, '$.' || ?) < ?`)
			args = append(args, f, pred.Value)
		case api.OpContains:
			b.WriteString(` AND json_extract(doc, '$.' || ?) LIKE '%' || ? || '%' ESCAPE '\'`)
			args = append(args, f, escapeLike(fmt.Sprint(pred.Value)))
		case api.OpStartsWith:
			b.WriteString(` AND json_extract(doc, '$.' || ?) LIKE ? || '%' ESCAPE '\'`)
			args = append(args, f, escapeLike(fmt.Sprint(pred.Value)))
		}
	}

	if qs.Sort != nil {
		dir := "ASC"
		if qs.Sort.Desc {
			dir = "DESC"
		}
		// ord as tiebreak keeps the sort stable on equal keys.
		b.WriteString(` ORDER BY json_extract(doc, '$.' || ?) ` + dir + `, ord ASC`)
		args = append(args, qs.Sort.Field)
	} else {
		b.WriteString(` ORDER BY ord ASC`)
	}

	limit, offset := -1, 0
	if qs.Page != nil {
		if qs.Page.Limit > 0 {
			limit = qs.Page.Limit
		}
		offset = qs.Page.Offset
	}
	b.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, limit, offset)

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collPath, err)
	}
	defer func() { _ = rows.Close() }()

	out := []any{}
	for rows.Next() {
		var docStr string
		if err := rows.Scan(&docStr); err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		doc, err := oj.ParseString(docStr)
		if err != nil {
			return nil, fmt.Errorf("decode collection row: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// SetValue implements Store: read-modify-write of the owning element's doc.
// The parent may be the element itself or an object nested inside its doc
// (a compound property); either way the element row is rewritten.
func (s *SQLiteStore) SetValue(path []api.Segment, value any) error {
	tail := path[len(path)-1]
	if tail.Kind != api.SegProp {
		return fmt.Errorf("can only set a named property, not a %v address", tail.Kind)
	}
	pos, err := s.walk(path[:len(path)-1])
	if err != nil {
		return err
	}

	elemPath := pos.path
	keys := pos.keys
	switch pos.kind {
	case posElem:
	case posValue:
		elemPath = pos.owner
	default:
		return fmt.Errorf("property %q: parent is not an element: %w", tail.Name, api.ErrNotFound)
	}

	doc, _, err := s.elementDoc(elemPath)
	if err != nil {
		return err
	}
	m := doc
	for _, k := range keys {
		next, ok := m[k].(map[string]any)
		if !ok {
			return fmt.Errorf("property %q: parent is not an object: %w", tail.Name, api.ErrNotFound)
		}
		m = next
	}
	m[tail.Name] = value
	if _, err := s.db.Exec(`UPDATE nodes SET doc = ? WHERE path = ?`, oj.JSON(doc), elemPath); err != nil {
		return fmt.Errorf("update element %s: %w", elemPath, err)
	}
	return nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(path []api.Segment, props map[string]any) (api.Segment, error) {
	pos, err := s.walk(path)
	if err != nil {
		return api.Segment{}, err
	}
	if pos.kind != posColl {
		return api.Segment{}, api.ErrNotCollection
	}

	elem := make(map[string]any, len(props)+1)
	for k, v := range props {
		elem[k] = v
	}
	if _, ok := elem[s.IDField]; !ok {
		elem[s.IDField] = uuid.NewString()
	}

	var ord int
	err = s.db.QueryRow(`SELECT COALESCE(MAX(ord)+1, 0) FROM nodes WHERE parent = ?`, pos.path).Scan(&ord)
	if err != nil {
		return api.Segment{}, fmt.Errorf("next ord for %s: %w", pos.path, err)
	}
	elemPath := pos.path + "/" + s.elementKey(elem)
	if err := s.insertElement(elemPath, pos.path, ord, elem); err != nil {
		return api.Segment{}, err
	}
	return elemSegment(elem, s.IDField, s.NameField, ord), nil
}

// Remove implements Store. Descendant rows go with the element.
func (s *SQLiteStore) Remove(path []api.Segment) error {
	tail := path[len(path)-1]
	if !tail.Element() {
		return api.ErrNoParentCollection
	}
	pos, err := s.walk(path)
	if err != nil {
		return err
	}
	if pos.kind != posElem {
		return api.ErrNoParentCollection
	}
	_, err = s.db.Exec(
		`DELETE FROM nodes WHERE path = ? OR path LIKE ? || '/%' ESCAPE '\'`,
		pos.path, escapeLike(pos.path),
	)
	if err != nil {
		return fmt.Errorf("delete element %s: %w", pos.path, err)
	}
	return nil
}

// Move implements Mover: rows are re-parented in place so nested collections
// survive the move, which the generic fetch/insert/remove cycle would drop.
func (s *SQLiteStore) Move(src, dst []api.Segment) (api.Segment, error) {
	srcPos, err := s.walk(src)
	if err != nil {
		return api.Segment{}, err
	}
	if srcPos.kind != posElem {
		return api.Segment{}, api.ErrNoParentCollection
	}
	dstPos, err := s.walk(dst)
	if err != nil {
		return api.Segment{}, err
	}
	if dstPos.kind != posColl {
		return api.Segment{}, api.ErrNotCollection
	}

	doc, _, err := s.elementDoc(srcPos.path)
	if err != nil {
		return api.Segment{}, err
	}

	var ord int
	err = s.db.QueryRow(`SELECT COALESCE(MAX(ord)+1, 0) FROM nodes WHERE parent = ?`, dstPos.path).Scan(&ord)
	if err != nil {
		return api.Segment{}, fmt.Errorf("next ord for %s: %w", dstPos.path, err)
	}
	newPath := dstPos.path + "/" + s.elementKey(doc)

	tx, err := s.db.Begin()
	if err != nil {
		return api.Segment{}, fmt.Errorf("begin move: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`UPDATE nodes SET path = ?, parent = ?, ord = ? WHERE path = ?`,
		newPath, dstPos.path, ord, srcPos.path)
	if err != nil {
		return api.Segment{}, fmt.Errorf("move element %s: %w", srcPos.path, err)
	}
	// Re-prefix descendants.
	_, err = tx.Exec(
		`UPDATE nodes SET path = ? || substr(path, ?), parent = ? || substr(parent, ?)
		 WHERE path LIKE ? || '/%' ESCAPE '\'`,
		newPath, len(srcPos.path)+1, newPath, len(srcPos.path)+1, escapeLike(srcPos.path),
	)
	if err != nil {
		return api.Segment{}, fmt.Errorf("move descendants of %s: %w", srcPos.path, err)
	}
	if err := tx.Commit(); err != nil {
		return api.Segment{}, fmt.Errorf("commit move: %w", err)
	}
	return elemSegment(doc, s.IDField, s.NameField, ord), nil
}
