package readings

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// LocalStore is an embedded document store on BadgerDB. Keys are
// doc/<board>\x00<unix nanos><seq>, so a board's documents are laid out in
// time order and every fetch comes back ascending.
type LocalStore struct {
	db         *badger.DB
	seq        *badger.Sequence
	codec      *docCodec
	boardField string
}

// OpenLocalStore opens (or creates) the store under dir.
func OpenLocalStore(dir string, compressionLevel int, boardField string) (*LocalStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, "badger"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq/docs"), 256)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	codec, err := newDocCodec(compressionLevel)
	if err != nil {
		seq.Release()
		db.Close()
		return nil, err
	}
	return &LocalStore{db: db, seq: seq, codec: codec, boardField: boardField}, nil
}

func boardPrefix(board string) []byte {
	return append([]byte("doc/"+board), 0)
}

func docKey(board string, nanos int64, seq uint64) []byte {
	k := boardPrefix(board)
	k = binary.BigEndian.AppendUint64(k, uint64(nanos))
	return binary.BigEndian.AppendUint64(k, seq)
}

// Append stores one document. The payload must carry the board field.
func (s *LocalStore) Append(_ context.Context, d model.Document) error {
	board, ok := d.Payload[s.boardField].(string)
	if !ok || board == "" {
		return fmt.Errorf("document without %s", s.boardField)
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("badger sequence: %w", err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	key := docKey(board, d.Time.UnixNano(), n)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, s.codec.compress(raw))
	})
}

func (s *LocalStore) Fetch(_ context.Context, q Query) (Cursor, error) {
	prefix := boardPrefix(q.Board)
	seek := prefix
	if q.Range != nil {
		seek = docKey(q.Board, q.Range.Start.UnixNano(), 0)
	}

	var docs []model.Document
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if q.Range != nil {
				nanos := int64(binary.BigEndian.Uint64(item.Key()[len(prefix):]))
				if nanos > q.Range.End.UnixNano() {
					break
				}
			}
			var d model.Document
			err := item.Value(func(val []byte) error {
				raw, err := s.codec.decompress(val)
				if err != nil {
					return err
				}
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.UseNumber()
				return dec.Decode(&d)
			})
			if err != nil {
				return fmt.Errorf("read %x: %w", item.Key(), err)
			}
			if Matches(q, s.boardField, d) {
				docs = append(docs, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local fetch board=%s field=%s: %w", q.Board, q.Field, err)
	}
	return NewSliceCursor(docs), nil
}

func (s *LocalStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("local store closed")
	}
	return nil
}

func (s *LocalStore) Close() error {
	if s.seq != nil {
		_ = s.seq.Release()
	}
	s.codec.close()
	return s.db.Close()
}
