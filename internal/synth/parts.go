package synth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Part is one independently synthesized piece of a scene, such as the intro
// or the scene body.
type Part struct {
	Name            string
	Source          SegmentSource
	Voices          map[string]string
	NarratorVoiceID string
	Options         Options
}

// PartResult is the outcome of one part.
type PartResult struct {
	Index int
	Name  string
	Track *Track
	Err   error
}

// SynthesizeParts synthesizes every part concurrently and hands results to
// emit strictly in part order: part i is emitted only after parts 0..i-1, even
// when a later part finishes first. emit runs on the calling goroutine.
//
// The returned slice holds every result in order. The error joins the
// failures of all parts.
func (s *Synthesizer) SynthesizeParts(ctx context.Context, parts []Part, emit func(PartResult)) ([]PartResult, error) {
	results := make([]PartResult, len(parts))
	done := make([]chan struct{}, len(parts))

	g := new(errgroup.Group)
	for i, p := range parts {
		done[i] = make(chan struct{})
		g.Go(func() error {
			defer close(done[i])
			track, err := s.Synthesize(ctx, p.Source, p.Voices, p.NarratorVoiceID, p.Options)
			if err != nil {
				err = fmt.Errorf("synth: part %q: %w", p.Name, err)
			}
			results[i] = PartResult{Index: i, Name: p.Name, Track: track, Err: err}
			return nil
		})
	}

	var errs []error
	for i := range parts {
		<-done[i]
		if emit != nil {
			emit(results[i])
		}
		if results[i].Err != nil {
			errs = append(errs, results[i].Err)
		}
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
