package job

import "context"

// Observer receives a snapshot of a job after every successful write.
type Observer func(*Job)

// ObservedStore wraps a JobStore and reports each added or updated job.
type ObservedStore struct {
	JobStore
	observe Observer
}

func NewObservedStore(inner JobStore, observe Observer) *ObservedStore {
	return &ObservedStore{JobStore: inner, observe: observe}
}

func (s *ObservedStore) Add(ctx context.Context, j *Job) error {
	if err := s.JobStore.Add(ctx, j); err != nil {
		return err
	}
	s.observe(j.Clone())
	return nil
}

func (s *ObservedStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	j, err := s.JobStore.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.observe(j.Clone())
	return j, nil
}
