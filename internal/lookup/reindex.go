package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/facelookup/internal/constants"
	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
)

// Reindex outcomes per student
const (
	OutcomeEncoded = "encoded"
	OutcomeNoFace  = "no_face"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Current   int
	Total     int
	StudentID int64
	Outcome   string
}

// ReindexOptions controls a Reindex run.
type ReindexOptions struct {
	OnlyMissing bool               // only students without a stored descriptor
	Force       bool               // recompute even when the photo hash still matches
	Workers     int                // parallel decode and hash workers, <= 0 means WorkerPoolSize
	OnProgress  func(ProgressInfo) // optional, calls are serialized
}

// ReindexResult summarizes a Reindex run.
type ReindexResult struct {
	Processed int
	Encoded   int
	NoFace    int
	Skipped   int
	Errors    []error
}

type reindexOutcome struct {
	outcome string
	err     error
}

// Reindex recomputes descriptors from stored student photos. Students whose
// photo hash still matches their stored descriptor are skipped unless
// opts.Force is set. Detection
// itself is serialized by the models; workers overlap decoding, hashing and
// storage round trips.
func (s *Service) Reindex(ctx context.Context, opts ReindexOptions) (*ReindexResult, error) {
	students, err := s.store.StudentsWithPhotos(ctx, opts.OnlyMissing)
	if err != nil {
		return nil, fmt.Errorf("listing students with photos: %w", err)
	}
	result := &ReindexResult{}
	if len(students) == 0 {
		return result, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = constants.WorkerPoolSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultsChan := make(chan reindexOutcome, len(students))
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var processedCount int
	var progressMu sync.Mutex

	reportProgress := func(id int64, outcome string) {
		progressMu.Lock()
		defer progressMu.Unlock()
		processedCount++
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{Current: processedCount, Total: len(students), StudentID: id, Outcome: outcome})
		}
	}

	for i := range students {
		wg.Add(1)
		go func(st database.Student) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			outcome, err := s.reindexStudent(ctx, st, opts.Force)
			if errors.Is(err, face.ErrModelsUnavailable) {
				// Every remaining student would fail the same way.
				cancel()
			}
			resultsChan <- reindexOutcome{outcome: outcome, err: err}
			reportProgress(st.ID, outcome)
		}(students[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var modelsErr error
	for r := range resultsChan {
		result.Processed++
		switch r.outcome {
		case OutcomeEncoded:
			result.Encoded++
		case OutcomeNoFace:
			result.NoFace++
		case OutcomeSkipped:
			result.Skipped++
		}
		if r.err != nil {
			if errors.Is(r.err, face.ErrModelsUnavailable) {
				modelsErr = r.err
			}
			result.Errors = append(result.Errors, r.err)
		}
	}

	s.logger.Info("reindex finished",
		"processed", result.Processed, "encoded", result.Encoded,
		"noFace", result.NoFace, "skipped", result.Skipped, "errors", len(result.Errors))
	if modelsErr != nil {
		return result, fmt.Errorf("reindex aborted: %w", modelsErr)
	}
	return result, nil
}

func (s *Service) reindexStudent(ctx context.Context, st database.Student, force bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeFailed, fmt.Errorf("student %d: %w", st.ID, err)
	}

	data, hash, err := s.photoHash(st.PhotoFile)
	if err != nil {
		s.logger.Error(err, "student photo unreadable", "studentID", st.ID)
		return OutcomeFailed, fmt.Errorf("student %d: %w", st.ID, err)
	}
	if !force && samePhoto(&st, hash) {
		return OutcomeSkipped, nil
	}

	desc, err := s.extractor.Describe(ctx, face.RawBytes(data))
	outcome := OutcomeEncoded
	switch {
	case errors.Is(err, face.ErrNoFace):
		outcome = OutcomeNoFace
	case err != nil:
		return OutcomeFailed, fmt.Errorf("student %d: %w", st.ID, err)
	}

	if err := s.store.SaveDescriptor(ctx, st.ID, desc, hash); err != nil {
		return OutcomeFailed, fmt.Errorf("student %d: saving descriptor: %w", st.ID, err)
	}
	if desc != nil {
		s.indexDescriptor(st.ID, desc)
	} else if s.index != nil {
		s.index.Delete(st.ID)
	}
	return outcome, nil
}
