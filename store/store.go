// Package store persists book chapters and subchapters in SQLite with
// optimistic concurrency on updates.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// orderStep is the gap between consecutive sort_order values. Reorder assigns
// (index+1)*orderStep leaving room for future inserts between neighbors.
const orderStep = 100

// Chapter is a stored chapter or subchapter. A row with non-empty ParentID is
// a subchapter of the chapter with that ID.
type Chapter struct {
	ID           string
	BookID       string
	ParentID     string
	Title        string
	Content      string
	Epigraph     string
	Order        int64
	IsFirstPage  bool
	IsCover      bool
	IncludeTitle bool
	// BackgroundImageURL is used as page background; for covers it is fitted
	// to the viewport at pagination time.
	BackgroundImageURL string
	Version            int64
	UpdatedAt          time.Time
}

// Store manages chapter persistence backed by SQLite. A single connection is
// shared, all access is serialized.
type Store struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	log  *zap.Logger
}

// Open opens (creating when necessary) the chapter database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open chapter database: %w", err)
	}
	s := &Store{conn: conn, log: log.Named("store")}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func scanChapter(stmt *sqlite.Stmt) (*Chapter, error) {
	updated, err := time.Parse(time.RFC3339Nano, stmt.GetText("updated_at"))
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &Chapter{
		ID:                 stmt.GetText("id"),
		BookID:             stmt.GetText("book_id"),
		ParentID:           stmt.GetText("parent_id"),
		Title:              stmt.GetText("title"),
		Content:            stmt.GetText("content"),
		Epigraph:           stmt.GetText("epigraph"),
		Order:              stmt.GetInt64("sort_order"),
		IsFirstPage:        stmt.GetInt64("is_first_page") != 0,
		IsCover:            stmt.GetInt64("is_cover") != 0,
		IncludeTitle:       stmt.GetInt64("include_title") != 0,
		BackgroundImageURL: stmt.GetText("background_image_url"),
		Version:            stmt.GetInt64("version"),
		UpdatedAt:          updated,
	}, nil
}

// List returns chapters of a book ordered by their numeric order. Pass a
// chapter ID as parentID to list its subchapters, empty string for top-level
// chapters.
func (s *Store) List(ctx context.Context, bookID, parentID string) ([]*Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.interrupt(ctx)()

	var out []*Chapter
	err := sqlitex.Execute(s.conn,
		`SELECT * FROM chapters WHERE book_id = ? AND parent_id = ? ORDER BY sort_order, id`,
		&sqlitex.ExecOptions{
			Args: []any{bookID, parentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ch, err := scanChapter(stmt)
				if err != nil {
					return err
				}
				out = append(out, ch)
				return nil
			}})
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return out, nil
}

// Get returns single chapter by ID.
func (s *Store) Get(ctx context.Context, id string) (*Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.interrupt(ctx)()
	return s.get(id)
}

func (s *Store) get(id string) (*Chapter, error) {
	var out *Chapter
	err := sqlitex.Execute(s.conn, `SELECT * FROM chapters WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ch, err := scanChapter(stmt)
				if err != nil {
					return err
				}
				out = ch
				return nil
			}})
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// Create inserts a new chapter. When ID is empty a new UUID is assigned, when
// Order is zero the chapter is placed after the current last sibling. Version
// always starts at 1.
func (s *Store) Create(ctx context.Context, ch *Chapter) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.interrupt(ctx)()
	defer sqlitex.Save(s.conn)(&err)

	if ch.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate chapter ID: %w", err)
		}
		ch.ID = id.String()
	}
	if ch.Order == 0 {
		var last int64
		err = sqlitex.Execute(s.conn,
			`SELECT COALESCE(MAX(sort_order), 0) FROM chapters WHERE book_id = ? AND parent_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{ch.BookID, ch.ParentID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					last = stmt.ColumnInt64(0)
					return nil
				}})
		if err != nil {
			return fmt.Errorf("find last sibling order: %w", err)
		}
		ch.Order = last + orderStep
	}
	ch.Version = 1
	ch.UpdatedAt = time.Now().UTC()

	err = sqlitex.Execute(s.conn,
		`INSERT INTO chapters (id, book_id, parent_id, title, content, epigraph, sort_order,
			is_first_page, is_cover, include_title, background_image_url, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			ch.ID, ch.BookID, ch.ParentID, ch.Title, ch.Content, ch.Epigraph, ch.Order,
			boolToInt(ch.IsFirstPage), boolToInt(ch.IsCover), boolToInt(ch.IncludeTitle),
			ch.BackgroundImageURL, ch.Version, ch.UpdatedAt.Format(time.RFC3339Nano),
		}})
	if err != nil {
		return fmt.Errorf("insert chapter: %w", err)
	}
	s.log.Debug("Chapter created", zap.String("id", ch.ID), zap.String("title", ch.Title))
	return nil
}

// Update rewrites chapter data if and only if the stored version still equals
// expectedVersion; otherwise it fails with VersionConflictError carrying the
// current version. Conflicts are surfaced to the caller, never retried.
func (s *Store) Update(ctx context.Context, ch *Chapter, expectedVersion int64) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.interrupt(ctx)()
	defer sqlitex.Save(s.conn)(&err)

	current, err := s.get(ch.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return &VersionConflictError{ID: ch.ID, Current: current.Version}
	}

	ch.Version = expectedVersion + 1
	ch.UpdatedAt = time.Now().UTC()
	err = sqlitex.Execute(s.conn,
		`UPDATE chapters SET title = ?, content = ?, epigraph = ?, sort_order = ?,
			is_first_page = ?, is_cover = ?, include_title = ?, background_image_url = ?,
			version = ?, updated_at = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			ch.Title, ch.Content, ch.Epigraph, ch.Order,
			boolToInt(ch.IsFirstPage), boolToInt(ch.IsCover), boolToInt(ch.IncludeTitle),
			ch.BackgroundImageURL, ch.Version, ch.UpdatedAt.Format(time.RFC3339Nano), ch.ID,
		}})
	if err != nil {
		return fmt.Errorf("update chapter: %w", err)
	}
	return nil
}

// Delete removes a chapter and all its subchapters.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.interrupt(ctx)()
	defer sqlitex.Save(s.conn)(&err)

	if _, err = s.get(id); err != nil {
		return err
	}
	err = sqlitex.Execute(s.conn, `DELETE FROM chapters WHERE id = ? OR parent_id = ?`,
		&sqlitex.ExecOptions{Args: []any{id, id}})
	if err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}
	return nil
}

// Reorder assigns sort_order = (index+1)*100 following the given ID order.
// Gaps are left intentionally so future inserts can squeeze between siblings
// without renumbering.
func (s *Store) Reorder(ctx context.Context, orderedIDs []string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.interrupt(ctx)()
	defer sqlitex.Save(s.conn)(&err)

	for i, id := range orderedIDs {
		err = sqlitex.Execute(s.conn, `UPDATE chapters SET sort_order = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{int64(i+1) * orderStep, id}})
		if err != nil {
			return fmt.Errorf("reorder chapter %q: %w", id, err)
		}
		if s.conn.Changes() == 0 {
			return fmt.Errorf("reorder chapter %q: %w", id, ErrNotFound)
		}
	}
	return nil
}

func (s *Store) interrupt(ctx context.Context) func() {
	old := s.conn.SetInterrupt(ctx.Done())
	return func() { s.conn.SetInterrupt(old) }
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
