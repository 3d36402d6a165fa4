package kvstore

import (
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrNamespaceNotFound = errors.New("namespace not found")

// NamespaceInfo is a catalog entry.
type NamespaceInfo struct {
	ID    string `msgpack:"id" json:"id"`
	Title string `msgpack:"title" json:"title"`
}

// CreateNamespace registers a new namespace with a generated id.
func (s *Store) CreateNamespace(title string) (NamespaceInfo, error) {
	if title == "" {
		return NamespaceInfo{}, errors.New("namespace title is required")
	}
	info := NamespaceInfo{
		ID:    uuid.NewString(),
		Title: title,
	}
	if err := s.putNamespace(info); err != nil {
		return NamespaceInfo{}, err
	}
	return info, nil
}

// RenameNamespace changes the title of an existing namespace.
func (s *Store) RenameNamespace(id, title string) error {
	info, err := s.GetNamespace(id)
	if err != nil {
		return err
	}
	info.Title = title
	return s.putNamespace(info)
}

// RemoveNamespace drops a namespace and every key stored in it.
func (s *Store) RemoveNamespace(id string) error {
	if _, err := s.GetNamespace(id); err != nil {
		return err
	}
	if err := s.db.DropPrefix(keyspacePrefix(id)); err != nil {
		return errors.Wrapf(err, "drop keys of namespace %s", id)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(catalogKey(id))
	})
	return errors.Wrapf(err, "remove namespace %s", id)
}

func (s *Store) GetNamespace(id string) (NamespaceInfo, error) {
	var info NamespaceInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(catalogKey(id))
		if err == badger.ErrKeyNotFound {
			return errors.Wrap(ErrNamespaceNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &info)
		})
	})
	return info, err
}

// ListNamespaces returns all catalog entries ordered by title.
func (s *Store) ListNamespaces() ([]NamespaceInfo, error) {
	var out []NamespaceInfo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{catalogMarker}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var info NamespaceInfo
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &info)
			}); err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list namespaces")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (s *Store) putNamespace(info NamespaceInfo) error {
	b, err := msgpack.Marshal(&info)
	if err != nil {
		return errors.Wrap(err, "encode namespace")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(catalogKey(info.ID), b)
	})
	return errors.Wrapf(err, "store namespace %s", info.ID)
}
