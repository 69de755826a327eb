package archives

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/reusee/studyboard/storages"
)

// Entry is a *Group or a *Dataset.
type Entry interface {
	Path() string
	Name() string
	entry()
}

type DType string

const (
	DTypeString DType = "string"
	DTypeBytes  DType = "bytes"
)

type Group struct {
	archive *Archive
	path    string
}

var _ Entry = new(Group)

func (*Group) entry() {}

func (g *Group) Path() string {
	return g.path
}

func (g *Group) Name() string {
	return path.Base(g.path)
}

type Dataset struct {
	archive *Archive
	path    string
	dtype   DType
}

var _ Entry = new(Dataset)

func (*Dataset) entry() {}

func (d *Dataset) Path() string {
	return d.path
}

func (d *Dataset) Name() string {
	return path.Base(d.path)
}

func (d *Dataset) DType() DType {
	return d.dtype
}

func (d *Dataset) Bytes() ([]byte, error) {
	var data []byte
	if err := d.archive.db.QueryRow(
		`select data from entries where path = ?`,
		d.path,
	).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", d.path, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%q: %w", name, ErrBadName)
	}
	return nil
}

// Keys returns the names of the direct children, sorted.
func (g *Group) Keys() ([]string, error) {
	rows, err := g.archive.db.Query(
		`select name from entries where parent = ? order by name`,
		g.path,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ret = append(ret, name)
	}
	return ret, rows.Err()
}

func (g *Group) Get(name string) (Entry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return g.archive.entryAt(childPath(g.path, name))
}

// Lookup resolves a slash separated path relative to g.
func (g *Group) Lookup(p string) (Entry, error) {
	var entry Entry = g
	for part := range strings.SplitSeq(p, "/") {
		if part == "" {
			continue
		}
		group, ok := entry.(*Group)
		if !ok {
			return nil, fmt.Errorf("%s: %w", entry.Path(), ErrNotGroup)
		}
		var err error
		entry, err = group.Get(part)
		if err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func (a *Archive) entryAt(p string) (Entry, error) {
	var kind int
	var dtype string
	if err := a.db.QueryRow(
		`select kind, dtype from entries where path = ?`,
		p,
	).Scan(&kind, &dtype); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, err
	}
	if kind == kindGroup {
		return &Group{
			archive: a,
			path:    p,
		}, nil
	}
	return &Dataset{
		archive: a,
		path:    p,
		dtype:   DType(dtype),
	}, nil
}

// CreateGroup returns the child group name, creating it if absent.
func (g *Group) CreateGroup(name string) (*Group, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	p := childPath(g.path, name)
	entry, err := g.archive.entryAt(p)
	if err == nil {
		if group, ok := entry.(*Group); ok {
			return group, nil
		}
		return nil, fmt.Errorf("%s: %w", p, ErrNotGroup)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := g.archive.db.Exec(
		`insert into entries (path, parent, name, kind) values (?, ?, ?, ?)`,
		p, g.path, name, kindGroup,
	); err != nil {
		return nil, err
	}
	return &Group{
		archive: g.archive,
		path:    p,
	}, nil
}

// WriteDataset writes a leaf, replacing any entry of the same name.
func (g *Group) WriteDataset(name string, data []byte, dtype DType) (*Dataset, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	p := childPath(g.path, name)
	ctx := context.Background()
	if err := storages.RunTx(ctx, g.archive.db, func(tx storages.Tx) error {
		if err := deleteTree(ctx, tx, p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`insert into entries (path, parent, name, kind, dtype, data) values (?, ?, ?, ?, ?, ?)`,
			p, g.path, name, kindDataset, string(dtype), data,
		)
		return err
	}); err != nil {
		return nil, fmt.Errorf("write %s: %w", p, err)
	}
	return &Dataset{
		archive: g.archive,
		path:    p,
		dtype:   dtype,
	}, nil
}

// Delete removes the child name and everything under it.
func (g *Group) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	p := childPath(g.path, name)
	ctx := context.Background()
	return storages.RunTx(ctx, g.archive.db, func(tx storages.Tx) error {
		var n int
		if err := tx.QueryRow(ctx, `select count(*) from entries where path = ?`, p).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return deleteTree(ctx, tx, p)
	})
}

func deleteTree(ctx context.Context, tx storages.Tx, p string) error {
	prefix := p + "/"
	_, err := tx.Exec(ctx,
		`delete from entries where path = ? or substr(path, 1, ?) = ?`,
		p, len(prefix), prefix,
	)
	return err
}

type row struct {
	path  string
	kind  int
	dtype string
	data  []byte
}

// CopyFrom deep copies src, possibly from another archive, into g under the
// same name. An existing entry of that name is replaced.
func (g *Group) CopyFrom(src Entry) error {
	var srcArchive *Archive
	switch src := src.(type) {
	case *Group:
		srcArchive = src.archive
	case *Dataset:
		srcArchive = src.archive
	}
	srcPath := src.Path()
	if srcPath == "/" {
		return fmt.Errorf("copy root: %w", ErrBadName)
	}

	prefix := srcPath + "/"
	rows, err := srcArchive.db.Query(
		`select path, kind, dtype, data from entries where path = ? or substr(path, 1, ?) = ?`,
		srcPath, len(prefix), prefix,
	)
	if err != nil {
		return err
	}
	var copied []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.path, &r.kind, &r.dtype, &r.data); err != nil {
			rows.Close()
			return err
		}
		copied = append(copied, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	destPath := childPath(g.path, src.Name())
	ctx := context.Background()
	return storages.RunTx(ctx, g.archive.db, func(tx storages.Tx) error {
		if err := deleteTree(ctx, tx, destPath); err != nil {
			return err
		}
		for _, r := range copied {
			p := destPath + strings.TrimPrefix(r.path, srcPath)
			if _, err := tx.Exec(ctx,
				`insert into entries (path, parent, name, kind, dtype, data) values (?, ?, ?, ?, ?, ?)`,
				p, parentOf(p), path.Base(p), r.kind, r.dtype, r.data,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return dir
}
