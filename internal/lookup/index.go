package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
)

// candidates narrows known to the descriptors worth an exact comparison.
// Below IndexMinSize, or when no prefilter is available, it is known itself.
// Prefilter results stay in ascending ID order so ties resolve the same way
// as a full scan.
func (s *Service) candidates(
	ctx context.Context, known face.KnownSet, query face.Descriptor, log logr.Logger,
) face.KnownSet {
	if len(known) < s.cfg.IndexMinSize {
		return known
	}
	limit := max(database.HNSWMinCandidates, 2*len(known)/100)

	if s.index != nil && s.index.Len() > 0 {
		ids, err := s.index.Candidates(query, limit)
		if err == nil && len(ids) > 0 {
			return subset(known, ids)
		}
		log.V(1).Info("descriptor index unusable, falling back", "error", fmt.Sprint(err))
	}

	if vs, ok := s.store.(database.VectorSearcher); ok {
		ids, err := vs.NearestByVector(ctx, query, limit)
		if err == nil && len(ids) > 0 {
			return subset(known, ids)
		}
		log.V(1).Info("vector search unusable, falling back", "error", fmt.Sprint(err))
	}
	return known
}

// subset returns the entries of known whose ID is in ids, keeping known's order.
func subset(known face.KnownSet, ids []int64) face.KnownSet {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(face.KnownSet, 0, len(ids))
	for _, k := range known {
		if want[k.ID] {
			out = append(out, k)
		}
	}
	return out
}

// RefreshIndex rebuilds the descriptor index from storage, loading the saved
// graph from path when it is still current. It is a no-op without an index.
// Known sets smaller than IndexMinSize leave the index empty.
func (s *Service) RefreshIndex(ctx context.Context, path string) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	known, err := s.store.KnownDescriptors(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading known descriptors: %w", err)
	}
	if len(known) < s.cfg.IndexMinSize {
		s.index.Build(nil)
		return 0, nil
	}

	if path != "" {
		err := s.index.Load(path, known)
		if err == nil {
			s.logger.Info("descriptor index loaded", "path", path, "count", s.index.Len())
			return s.index.Len(), nil
		}
		if !errors.Is(err, database.ErrIndexStale) {
			s.logger.V(1).Info("descriptor index not loaded", "path", path, "error", err.Error())
		}
	}

	s.index.Build(known)
	s.logger.Info("descriptor index built", "count", s.index.Len())
	if path != "" {
		if err := s.index.Save(path); err != nil {
			return s.index.Len(), fmt.Errorf("saving descriptor index: %w", err)
		}
	}
	return s.index.Len(), nil
}

func (s *Service) indexDescriptor(id int64, desc face.Descriptor) {
	if s.index == nil || s.index.Len() == 0 {
		return
	}
	s.index.Add(id, desc)
}
