package model

import (
	"encoding/gob"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&Voting{})
}

// Voting is a soft-voting composite: it averages the probability vectors of
// its members.
type Voting struct {
	Members []Classifier
}

func NewVoting(members ...Classifier) *Voting {
	return &Voting{Members: members}
}

func (v *Voting) Kind() string { return KindVoting }

// Fit fits every member concurrently on the same data.
func (v *Voting) Fit(samples []Sample, labels []int, classes int) error {
	if len(v.Members) == 0 {
		return errors.New("voting: no members")
	}
	var g errgroup.Group
	for _, m := range v.Members {
		g.Go(func() error {
			if err := m.Fit(samples, labels, classes); err != nil {
				return fmt.Errorf("voting member %s: %w", m.Kind(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (v *Voting) PredictProba(s Sample) ([]float64, error) {
	if len(v.Members) == 0 {
		return nil, ErrNotFitted
	}
	var out []float64
	for _, m := range v.Members {
		p, err := m.PredictProba(s)
		if err != nil {
			return nil, fmt.Errorf("voting member %s: %w", m.Kind(), err)
		}
		if out == nil {
			out = make([]float64, len(p))
		}
		if len(p) != len(out) {
			return nil, fmt.Errorf("voting member %s: %d classes, want %d", m.Kind(), len(p), len(out))
		}
		for k := range p {
			out[k] += p[k]
		}
	}
	for k := range out {
		out[k] /= float64(len(v.Members))
	}
	return out, nil
}

// Bind attaches runtime resources of members that need them.
func (v *Voting) Bind() error {
	for _, m := range v.Members {
		if b, ok := m.(Binder); ok {
			if err := b.Bind(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Voting) Close() error {
	var errs []error
	for _, m := range v.Members {
		if c, ok := m.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
