package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/webdoc/webdoc/internal/db"
)

const SystemNamespace = "webdoc/"

const keyPrefix = "jobs/"

// PersistentStore keeps jobs as JSON documents in badger under "jobs/<id>".
// Its lifecycle is that of the underlying db.Store, which the caller closes.
type PersistentStore struct {
	dbStore *db.Store
}

func NewPersistentStore(dbStore *db.Store) *PersistentStore {
	return &PersistentStore{dbStore: dbStore}
}

func (s *PersistentStore) Add(_ context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.dbStore.Set(SystemNamespace, keyPrefix+j.ID, data); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (s *PersistentStore) Get(_ context.Context, id string) (*Job, error) {
	data, err := s.dbStore.Get(SystemNamespace, keyPrefix+id)
	if err != nil {
		return nil, translate(id, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

func (s *PersistentStore) Update(_ context.Context, id string, fn func(*Job) error) (*Job, error) {
	var out Job
	err := s.dbStore.Update(SystemNamespace, keyPrefix+id, func(old []byte) ([]byte, error) {
		var j Job
		if err := json.Unmarshal(old, &j); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		if err := fn(&j); err != nil {
			return nil, err
		}
		out = j
		return json.Marshal(&j)
	})
	if err != nil {
		return nil, translate(id, err)
	}
	return &out, nil
}

func (s *PersistentStore) List(_ context.Context, f Filter) ([]*Job, int, error) {
	all, err := s.scan(f.Status)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt) // Most recent first
	})
	return page(all, f), len(all), nil
}

func (s *PersistentStore) Delete(_ context.Context, id string) error {
	if err := s.dbStore.Delete(SystemNamespace, keyPrefix+id); err != nil {
		return translate(id, err)
	}
	return nil
}

func (s *PersistentStore) Stats(_ context.Context) (Stats, error) {
	var st Stats
	all, err := s.scan("")
	if err != nil {
		return st, err
	}
	for _, j := range all {
		st.add(j.Status, 1)
	}
	return st, nil
}

func (s *PersistentStore) scan(status Status) ([]*Job, error) {
	var all []*Job
	err := s.dbStore.Scan(SystemNamespace, keyPrefix, func(key string, value []byte) error {
		var j Job
		if err := json.Unmarshal(value, &j); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		if status == "" || j.Status == status {
			all = append(all, &j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return all, nil
}

func translate(id string, err error) error {
	if errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
