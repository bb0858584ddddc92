package flash

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"
)

// PageSize is the unit stored per row by SQLiteStore.
const PageSize = 4096

const createPagesTable = `CREATE TABLE IF NOT EXISTS pages (
	page INTEGER PRIMARY KEY,
	data BLOB NOT NULL
)`

// SQLiteStore persists the flash in an SQLite database, one row per page.
// Pages never written read as erased.
type SQLiteStore struct {
	db   *sql.DB
	size int64
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string, size int64) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createPagesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create pages: %w", err)
	}
	glog.V(2).Infof("flash: sqlite store %s, %d bytes", path, size)
	return &SQLiteStore{db: db, size: size}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Size implements Store.
func (s *SQLiteStore) Size() int64 {
	return s.size
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func readPage(q queryer, page int64, buf []byte) error {
	var data []byte
	err := q.QueryRow("SELECT data FROM pages WHERE page = ?", page).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		for i := range buf {
			buf[i] = Erased
		}
		return nil
	}
	if err != nil {
		return err
	}
	n := copy(buf, data)
	for i := n; i < len(buf); i++ {
		buf[i] = Erased
	}
	return nil
}

// ReadAt implements io.ReaderAt.
func (s *SQLiteStore) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), s.size); err != nil {
		return 0, err
	}
	page := make([]byte, PageSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if err := readPage(s.db, pos/PageSize, page); err != nil {
			return n, err
		}
		n += copy(p[n:], page[pos%PageSize:])
	}
	return n, nil
}

// WriteAt implements io.WriterAt. The write is atomic.
func (s *SQLiteStore) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), s.size); err != nil {
		return 0, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	page := make([]byte, PageSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		num := pos / PageSize
		if err := readPage(tx, num, page); err != nil {
			return 0, err
		}
		n += copy(page[pos%PageSize:], p[n:])
		if _, err := tx.Exec("INSERT OR REPLACE INTO pages (page, data) VALUES (?, ?)", num, page); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
