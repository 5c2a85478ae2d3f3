package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pixperk/stompguard/pkg/graph"
)

var graphsBucket = []byte("graphs")

// BoltGraphStore keeps merged graph states in a bbolt file, one JSON value
// per graph id. Callers serialise writers through the graph-merge lock;
// bbolt's own single-writer transaction is only a second line.
type BoltGraphStore struct {
	db *bbolt.DB
}

func NewBoltGraphStore(dataDir string) (*BoltGraphStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "graph.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(graphsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create graph bucket: %w", err)
	}

	return &BoltGraphStore{db: db}, nil
}

// Load returns an empty state for graphs that were never saved.
func (s *BoltGraphStore) Load(_ context.Context, graphID string) (graph.State, error) {
	state := graph.State{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(graphsBucket).Get([]byte(graphID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", graphID, err)
	}
	return state, nil
}

func (s *BoltGraphStore) Save(_ context.Context, graphID string, state graph.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode graph %s: %w", graphID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(graphsBucket).Put([]byte(graphID), data)
	})
}

// Graphs lists the stored graph ids.
func (s *BoltGraphStore) Graphs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(graphsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *BoltGraphStore) Close() error {
	return s.db.Close()
}
