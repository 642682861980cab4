package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/store"
)

const fileVersion = 1

type (
	fileData struct {
		Version  int                              `msgpack:"version"`
		Entities map[string]map[string]fileRecord `msgpack:"entities"`
	}
	fileRecord struct {
		Attrs map[string]any      `msgpack:"attrs,omitempty"`
		Rels  map[string][]string `msgpack:"rels,omitempty"`
	}
)

// openFile opens a store persisted to a msgpack file. Every connection
// loads the file; writable connections rewrite it atomically on commit.
// A missing file is an empty store unless the connection is read-only.
func openFile(ctx context.Context, u *url.URL, model *schema.Model, opts store.Options) (store.Conn, error) {
	path := u.Host + u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("memstore: location %q has no file path", u)
	}
	ro, err := opts.Bool(store.ReadOnly, false)
	if err != nil {
		return nil, err
	}
	mode, err := opts.FileMode(store.FileMode, 0o600)
	if err != nil {
		return nil, err
	}
	st, err := Load(path, model)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !ro:
		st = New()
	case err != nil:
		return nil, err
	}
	if !ro {
		st.path, st.mode = path, mode
	}
	return st.Connect(ctx, model, opts)
}

// Load reads a store from a msgpack file. Attribute values are converted
// to the types the model declares. The returned store is not persisted on
// commit.
func Load(path string, model *schema.Model) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var fd fileData
	if err := dec.Decode(&fd); err != nil {
		return nil, fmt.Errorf("memstore: decode %s: %w", path, err)
	}
	if fd.Version != fileVersion {
		return nil, fmt.Errorf("memstore: %s: unsupported file version %d", path, fd.Version)
	}
	st := New()
	for entity, objects := range fd.Entities {
		e, ok := model.Entity(entity)
		if !ok {
			return nil, fmt.Errorf("memstore: %s: model does not describe entity %q", path, entity)
		}
		m := make(map[store.ID]*record, len(objects))
		for id, fr := range objects {
			r := newRecord()
			for name, v := range fr.Attrs {
				a, ok := e.Attribute(name)
				if !ok {
					return nil, fmt.Errorf("memstore: %s: unknown attribute %q on %q", path, name, entity)
				}
				if r.attrs[name], err = a.Type.Coerce(v); err != nil {
					return nil, fmt.Errorf("memstore: %s: %s/%s.%s: %w", path, entity, id, name, err)
				}
			}
			for name, ids := range fr.Rels {
				if _, ok := e.Relationship(name); !ok {
					return nil, fmt.Errorf("memstore: %s: unknown relationship %q on %q", path, name, entity)
				}
				r.rels[name] = make([]store.ID, len(ids))
				for i, id := range ids {
					r.rels[name][i] = store.ID(id)
				}
			}
			m[store.ID(id)] = r
		}
		st.objects[entity] = m
		st.order[entity] = sortedIDs(m)
	}
	return st, nil
}

// Save writes the committed state of the store to a msgpack file.
func (s *Store) Save(path string, mode fs.FileMode) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return save(path, mode, s.objects)
}

func save(path string, mode fs.FileMode, objects map[string]map[store.ID]*record) error {
	fd := fileData{Version: fileVersion, Entities: make(map[string]map[string]fileRecord, len(objects))}
	for entity, m := range objects {
		fm := make(map[string]fileRecord, len(m))
		for id, r := range m {
			fr := fileRecord{Attrs: r.attrs, Rels: make(map[string][]string, len(r.rels))}
			for name, ids := range r.rels {
				s := make([]string, len(ids))
				for i, id := range ids {
					s[i] = string(id)
				}
				fr.Rels[name] = s
			}
			fm[string(id)] = fr
		}
		fd.Entities[entity] = fm
	}
	data, err := msgpack.Marshal(&fd)
	if err != nil {
		return fmt.Errorf("memstore: encode: %w", err)
	}
	return writeFile(path, data, mode)
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte, mode fs.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("memstore: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("memstore: write %s: %w", f.Name(), err)
	}
	if err = f.Chmod(mode); err != nil {
		return fmt.Errorf("memstore: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("memstore: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("memstore: %w", err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("memstore: %w", err)
	}
	return nil
}

func sortedIDs(m map[store.ID]*record) []store.ID {
	ids := make([]store.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
