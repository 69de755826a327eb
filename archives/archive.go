package archives

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reusee/studyboard/storages"
)

// Archive is a hierarchical container stored as a sqlite file. Groups are
// directories, datasets are leaves.
type Archive struct {
	db       *sql.DB
	filePath string
	name     string
	owned    bool
}

const schemaSQL = `
create table if not exists entries (
	path text primary key,
	parent text,
	name text not null,
	kind integer not null,
	dtype text not null default '',
	data blob
);
create index if not exists entries_parent on entries (parent);
`

const (
	kindGroup   = 0
	kindDataset = 1
)

var (
	ErrNotFound   = errors.New("entry not found")
	ErrNotGroup   = errors.New("not a group")
	ErrBadName    = errors.New("bad entry name")
	ErrNotArchive = errors.New("not an archive")
)

// Create creates a new empty archive at filePath, replacing any existing file.
func Create(filePath string) (*Archive, error) {
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	db, err := storages.OpenSQLite(filePath)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := storages.RunTx(ctx, db, func(tx storages.Tx) error {
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`insert into entries (path, parent, name, kind) values ('/', null, '', ?)`,
			kindGroup,
		)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s: %w", filePath, err)
	}
	return &Archive{
		db:       db,
		filePath: filePath,
		name:     filepath.Base(filePath),
	}, nil
}

// Open opens an existing archive file.
func Open(filePath string) (*Archive, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, err
	}
	db, err := storages.OpenSQLite(filePath)
	if err != nil {
		return nil, err
	}
	var n int
	if err := db.QueryRow(
		`select count(*) from entries where path = '/' and kind = ?`,
		kindGroup,
	).Scan(&n); err != nil || n != 1 {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", filePath, ErrNotArchive)
	}
	return &Archive{
		db:       db,
		filePath: filePath,
		name:     filepath.Base(filePath),
	}, nil
}

// FromBytes stores data as a file under dir and opens it. The file is removed
// on Close. name is the display name.
func FromBytes(dir string, name string, data []byte) (*Archive, error) {
	f, err := os.CreateTemp(dir, "archive-*.db")
	if err != nil {
		return nil, err
	}
	filePath := f.Name()
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filePath)
		return nil, err
	}
	archive, err := Open(filePath)
	if err != nil {
		os.Remove(filePath)
		return nil, err
	}
	archive.name = name
	archive.owned = true
	return archive, nil
}

func (a *Archive) Name() string {
	return a.name
}

func (a *Archive) Root() *Group {
	return &Group{
		archive: a,
		path:    "/",
	}
}

// Bytes returns a self-contained copy of the archive file.
func (a *Archive) Bytes() ([]byte, error) {
	dir, err := os.MkdirTemp("", "studyboard-archive-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	target := filepath.Join(dir, "copy.db")
	if _, err := a.db.Exec(`vacuum into ?`, target); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", a.name, err)
	}
	return os.ReadFile(target)
}

func (a *Archive) Close() error {
	err := a.db.Close()
	if a.owned {
		err = errors.Join(err, os.Remove(a.filePath))
	}
	return err
}
