package job

import "context"

// JobStore defines the interface for job storage (in-memory, badger and postgres).
//
// Update must apply fn to the current record atomically: concurrent readers see
// either the record before fn ran or after it returned, never a partial write.
// If fn returns an error nothing is written and that error is returned.
type JobStore interface {
	Add(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
	List(ctx context.Context, filter Filter) ([]*Job, int, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
}

// Filter narrows List. Results are ordered by creation time, most recent first.
type Filter struct {
	Status Status
	Limit  int
	Offset int
}

type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s *Stats) add(status Status, n int) {
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusProcessing:
		s.Processing += n
	case StatusCompleted:
		s.Completed += n
	case StatusFailed:
		s.Failed += n
	}
}

// page applies offset/limit to an already filtered and ordered slice.
func page(all []*Job, f Filter) []*Job {
	total := len(all)
	if f.Offset >= total {
		return []*Job{}
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return all[f.Offset:end]
}
