package subscriptions

import (
	"context"
	"errors"
	"sort"

	points "telemetry-engine/internal/points/domain"
)

// ErrInvalidLink is returned for composite links with missing identities.
var ErrInvalidLink = errors.New("subscriptions: invalid composite link")

// Link declares that Composite is derived from Source, weighted by Factor.
type Link struct {
	Composite points.Ref
	Source    points.Ref
	Factor    float64
}

// Validate checks both ends of the link.
func (l Link) Validate() error {
	if l.Composite.SystemID <= 0 || l.Composite.PointIndex <= 0 || l.Source.SystemID <= 0 || l.Source.PointIndex <= 0 {
		return ErrInvalidLink
	}
	if l.Composite == l.Source {
		return ErrInvalidLink
	}
	return nil
}

// Definition groups the sources of one composite point.
type Definition struct {
	Composite points.Ref
	Sources   []Link
}

// DefinitionSource supplies admin-managed composite definitions.
type DefinitionSource interface {
	// Links returns every link, or only those owned by compositeSystemID when non-nil.
	Links(ctx context.Context, compositeSystemID *int64) ([]Link, error)
	// Definition returns the sources of one composite point.
	Definition(ctx context.Context, composite points.Ref) (Definition, bool, error)
}

// Entry is the registry record for one source system.
type Entry struct {
	SystemID         int64                `json:"systemId"`
	PointSubscribers map[int][]points.Ref `json:"pointSubscribers"`
	LastUpdatedMs    int64                `json:"lastUpdatedMs"`
}

// Subscribers returns the composites fed by a source point, or nil.
func (e Entry) Subscribers(pointIndex int) []points.Ref {
	return append([]points.Ref(nil), e.PointSubscribers[pointIndex]...)
}

// Add registers composite under the source point once.
func (e *Entry) Add(pointIndex int, composite points.Ref) {
	if e.PointSubscribers == nil {
		e.PointSubscribers = make(map[int][]points.Ref)
	}
	for _, ref := range e.PointSubscribers[pointIndex] {
		if ref == composite {
			return
		}
	}
	e.PointSubscribers[pointIndex] = append(e.PointSubscribers[pointIndex], composite)
	sortRefs(e.PointSubscribers[pointIndex])
}

// RemoveCompositeSystem drops every subscriber owned by systemID.
func (e *Entry) RemoveCompositeSystem(systemID int64) {
	for idx, refs := range e.PointSubscribers {
		kept := refs[:0]
		for _, ref := range refs {
			if ref.SystemID != systemID {
				kept = append(kept, ref)
			}
		}
		if len(kept) == 0 {
			delete(e.PointSubscribers, idx)
			continue
		}
		e.PointSubscribers[idx] = kept
	}
}

// Empty reports whether no source point has subscribers.
func (e Entry) Empty() bool { return len(e.PointSubscribers) == 0 }

// Clone deep-copies the entry.
func (e Entry) Clone() Entry {
	out := Entry{SystemID: e.SystemID, LastUpdatedMs: e.LastUpdatedMs}
	if e.PointSubscribers != nil {
		out.PointSubscribers = make(map[int][]points.Ref, len(e.PointSubscribers))
		for idx, refs := range e.PointSubscribers {
			out.PointSubscribers[idx] = append([]points.Ref(nil), refs...)
		}
	}
	return out
}

// Store persists registry entries keyed by source system.
type Store interface {
	Load(ctx context.Context, systemID int64) (Entry, bool, error)
	List(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, systemID int64) error
}

// GroupLinks folds links into one definition per composite point, ordered by ref.
func GroupLinks(links []Link) []Definition {
	byComposite := make(map[points.Ref][]Link)
	for _, link := range links {
		byComposite[link.Composite] = append(byComposite[link.Composite], link)
	}
	out := make([]Definition, 0, len(byComposite))
	for ref, sources := range byComposite {
		out = append(out, Definition{Composite: ref, Sources: sources})
	}
	sort.Slice(out, func(i, j int) bool { return refLess(out[i].Composite, out[j].Composite) })
	return out
}

func sortRefs(refs []points.Ref) {
	sort.Slice(refs, func(i, j int) bool { return refLess(refs[i], refs[j]) })
}

func refLess(a, b points.Ref) bool {
	if a.SystemID != b.SystemID {
		return a.SystemID < b.SystemID
	}
	return a.PointIndex < b.PointIndex
}
