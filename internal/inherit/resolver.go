// Package inherit propagates component tags down the traceability
// hierarchy (Capability -> Epic -> UserStory -> Test/Defect) and audits
// the result for drift.
package inherit

import (
	"context"
	"errors"
	"fmt"

	"github.com/stitchtrace/stitch/internal/debug"
	"github.com/stitchtrace/stitch/internal/runlog"
	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
	"github.com/stitchtrace/stitch/internal/utils"
)

// BatchStats summarizes one batch inheritance pass. Total is the number
// of candidate entities, Processed the number examined, Updated the
// number whose component changed, Errors the number of per-entity
// failures (failures are logged and skipped, never fatal).
type BatchStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
}

// Add accumulates another pass into s.
func (s *BatchStats) Add(o BatchStats) {
	s.Total += o.Total
	s.Processed += o.Processed
	s.Updated += o.Updated
	s.Errors += o.Errors
}

// Resolver walks ancestor chains and writes inherited components back to
// the store.
type Resolver struct {
	store storage.Storage

	// Actor is recorded on audit events for resolver mutations.
	Actor string
	// Log, when set, receives per-entity failure records during batch runs.
	Log *runlog.Logger
	// DryRun reports what would change without writing. Batch stats still
	// count would-be updates; unwritten intermediate hops stay empty in
	// the store, so chain walks fall through to the same source ancestor
	// and dry-run counts match a live run.
	DryRun bool
}

// NewResolver returns a Resolver writing events as actor "inherit".
func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{store: store, Actor: "inherit"}
}

// TestChain builds the ancestor chain for a test: its user story (soft
// issue-number link), then the epic (direct reference, falling back to
// the story's epic), then the epic's capability.
func (r *Resolver) TestChain(t *types.Test) AncestorChain {
	return r.leafChain(t.UserStoryIssue, t.EpicID)
}

// DefectChain builds the ancestor chain for a defect, shaped like the
// test chain.
func (r *Resolver) DefectChain(d *types.Defect) AncestorChain {
	return r.leafChain(d.UserStoryIssue, d.EpicID)
}

// StoryChain builds the ancestor chain for a user story: its epic, then
// the epic's capability.
func (r *Resolver) StoryChain(story *types.UserStory) AncestorChain {
	epicID := story.EpicID
	return r.epicwardChain(&epicID, nil)
}

// EpicChain builds the ancestor chain for an epic: just its capability.
func (r *Resolver) EpicChain(epic *types.Epic) AncestorChain {
	return AncestorChain{r.capabilityStep(func() *int64 { return epic.CapabilityID })}
}

// leafChain is shared by tests and defects: story hop first, then the
// epicward chain. The story lookup memoizes its result so the epic hop
// can fall back to the story's epic without a second query.
func (r *Resolver) leafChain(storyIssue *int, epicID *int64) AncestorChain {
	var story *types.UserStory

	storyStep := ChainStep{
		Kind: types.KindUserStory,
		Lookup: func(ctx context.Context) (*Ancestor, error) {
			if storyIssue == nil {
				return nil, nil
			}
			s, err := r.store.GetUserStoryByIssue(ctx, *storyIssue)
			if errors.Is(err, storage.ErrNotFound) {
				// Soft reference to a story that was never imported.
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			story = s
			return &Ancestor{Kind: types.KindUserStory, ID: s.ID, Component: s.Component}, nil
		},
	}

	rest := r.epicwardChain(epicID, func() *int64 {
		if story == nil {
			return nil
		}
		return &story.EpicID
	})
	return append(AncestorChain{storyStep}, rest...)
}

// epicwardChain builds the epic and capability hops. The epic id comes
// from the direct reference when set, otherwise from fallback (which may
// be nil, or may answer nil).
func (r *Resolver) epicwardChain(epicID *int64, fallback func() *int64) AncestorChain {
	var epic *types.Epic

	epicStep := ChainStep{
		Kind: types.KindEpic,
		Lookup: func(ctx context.Context) (*Ancestor, error) {
			id := epicID
			if id == nil && fallback != nil {
				id = fallback()
			}
			if id == nil {
				return nil, nil
			}
			e, err := r.store.GetEpic(ctx, *id)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			epic = e
			return &Ancestor{Kind: types.KindEpic, ID: e.ID, Component: e.Component}, nil
		},
	}

	return AncestorChain{epicStep, r.capabilityStep(func() *int64 {
		if epic == nil {
			return nil
		}
		return epic.CapabilityID
	})}
}

func (r *Resolver) capabilityStep(capID func() *int64) ChainStep {
	return ChainStep{
		Kind: types.KindCapability,
		Lookup: func(ctx context.Context) (*Ancestor, error) {
			id := capID()
			if id == nil {
				return nil, nil
			}
			c, err := r.store.GetCapability(ctx, *id)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &Ancestor{Kind: types.KindCapability, ID: c.ID, Component: c.Component}, nil
		},
	}
}

// InheritedComponents returns the full tag set of the nearest ancestor
// with a component. Single-tag inheritance takes position 0; this is for
// callers that need the whole list.
func (r *Resolver) InheritedComponents(ctx context.Context, chain AncestorChain) ([]string, error) {
	anc, err := chain.First(ctx)
	if err != nil {
		return nil, err
	}
	if anc == nil {
		return nil, nil
	}
	return utils.SplitTags(anc.Component), nil
}

// resolveComponent runs one chain walk and answers the tag to adopt.
// Empty string means nothing to inherit.
func (r *Resolver) resolveComponent(ctx context.Context, chain AncestorChain) (string, error) {
	anc, err := chain.First(ctx)
	if err != nil {
		return "", err
	}
	if anc == nil {
		return "", nil
	}
	return utils.FirstTag(anc.Component), nil
}

// ResolveTest resolves a test's component from its ancestors. Returns
// true when the stored row changed. A test with a component keeps it
// unless force is set; a test with no resolvable ancestor component is
// left unset (a no-op, not an error).
func (r *Resolver) ResolveTest(ctx context.Context, t *types.Test, force bool) (bool, error) {
	if t.Component != "" && !force {
		return false, nil
	}
	component, err := r.resolveComponent(ctx, r.TestChain(t))
	if err != nil {
		return false, err
	}
	if component == "" || component == t.Component {
		return false, nil
	}
	if r.DryRun {
		return true, nil
	}
	if err := r.store.UpdateTest(ctx, t.ID, map[string]interface{}{"component": component}, r.Actor); err != nil {
		return false, fmt.Errorf("failed to update test %d: %w", t.ID, err)
	}
	t.Component = component
	return true, nil
}

// ResolveDefect resolves a defect's component from its ancestors.
func (r *Resolver) ResolveDefect(ctx context.Context, d *types.Defect, force bool) (bool, error) {
	if d.Component != "" && !force {
		return false, nil
	}
	component, err := r.resolveComponent(ctx, r.DefectChain(d))
	if err != nil {
		return false, err
	}
	if component == "" || component == d.Component {
		return false, nil
	}
	if r.DryRun {
		return true, nil
	}
	if err := r.store.UpdateDefect(ctx, d.ID, map[string]interface{}{"component": component}, r.Actor); err != nil {
		return false, fmt.Errorf("failed to update defect %d: %w", d.ID, err)
	}
	d.Component = component
	return true, nil
}

// ResolveUserStory resolves a story's component from its epic and
// capability.
func (r *Resolver) ResolveUserStory(ctx context.Context, story *types.UserStory, force bool) (bool, error) {
	if story.Component != "" && !force {
		return false, nil
	}
	component, err := r.resolveComponent(ctx, r.StoryChain(story))
	if err != nil {
		return false, err
	}
	if component == "" || component == story.Component {
		return false, nil
	}
	if r.DryRun {
		return true, nil
	}
	if err := r.store.UpdateUserStory(ctx, story.ID, map[string]interface{}{"component": component}, r.Actor); err != nil {
		return false, fmt.Errorf("failed to update user story %d: %w", story.ID, err)
	}
	story.Component = component
	return true, nil
}

// ResolveEpic resolves an epic's component from its capability.
func (r *Resolver) ResolveEpic(ctx context.Context, epic *types.Epic, force bool) (bool, error) {
	if epic.Component != "" && !force {
		return false, nil
	}
	component, err := r.resolveComponent(ctx, r.EpicChain(epic))
	if err != nil {
		return false, err
	}
	if component == "" || component == epic.Component {
		return false, nil
	}
	if r.DryRun {
		return true, nil
	}
	if err := r.store.UpdateEpic(ctx, epic.ID, map[string]interface{}{"component": component}, r.Actor); err != nil {
		return false, fmt.Errorf("failed to update epic %d: %w", epic.ID, err)
	}
	epic.Component = component
	return true, nil
}

// ProcessAllEpicInheritance resolves components for every epic missing
// one (or every epic, under force).
func (r *Resolver) ProcessAllEpicInheritance(ctx context.Context, force bool) (*BatchStats, error) {
	filter := types.EpicFilter{}
	if !force {
		hasComponent := false
		filter.HasComponent = &hasComponent
	}
	epics, err := r.store.ListEpics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", err)
	}

	stats := &BatchStats{Total: len(epics)}
	for _, epic := range epics {
		stats.Processed++
		changed, err := r.ResolveEpic(ctx, epic, force)
		if err != nil {
			r.logEntityError(types.KindEpic, epic.ID, err)
			stats.Errors++
			continue
		}
		if changed {
			stats.Updated++
		}
	}
	return stats, nil
}

// ProcessAllStoryInheritance resolves components for every user story
// missing one (or every story, under force).
func (r *Resolver) ProcessAllStoryInheritance(ctx context.Context, force bool) (*BatchStats, error) {
	stories, err := r.store.ListUserStories(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list user stories: %w", err)
	}

	stats := &BatchStats{}
	for _, story := range stories {
		if story.Component != "" && !force {
			continue
		}
		stats.Total++
		stats.Processed++
		changed, err := r.ResolveUserStory(ctx, story, force)
		if err != nil {
			r.logEntityError(types.KindUserStory, story.ID, err)
			stats.Errors++
			continue
		}
		if changed {
			stats.Updated++
		}
	}
	return stats, nil
}

// ProcessAllTestInheritance resolves components for every test missing
// one (or every test, under force).
func (r *Resolver) ProcessAllTestInheritance(ctx context.Context, force bool) (*BatchStats, error) {
	filter := types.TestFilter{}
	if !force {
		hasComponent := false
		filter.HasComponent = &hasComponent
	}
	tests, err := r.store.ListTests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}

	stats := &BatchStats{Total: len(tests)}
	for _, t := range tests {
		stats.Processed++
		changed, err := r.ResolveTest(ctx, t, force)
		if err != nil {
			r.logEntityError(types.KindTest, t.ID, err)
			stats.Errors++
			continue
		}
		if changed {
			stats.Updated++
		}
	}
	return stats, nil
}

// ProcessAllDefectInheritance resolves components for every defect
// missing one (or every defect, under force).
func (r *Resolver) ProcessAllDefectInheritance(ctx context.Context, force bool) (*BatchStats, error) {
	filter := types.DefectFilter{}
	if !force {
		hasComponent := false
		filter.HasComponent = &hasComponent
	}
	defects, err := r.store.ListDefects(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list defects: %w", err)
	}

	stats := &BatchStats{Total: len(defects)}
	for _, d := range defects {
		stats.Processed++
		changed, err := r.ResolveDefect(ctx, d, force)
		if err != nil {
			r.logEntityError(types.KindDefect, d.ID, err)
			stats.Errors++
			continue
		}
		if changed {
			stats.Updated++
		}
	}
	return stats, nil
}

// ProcessFullInheritanceChain runs the batch passes top-down: epics from
// capabilities first, then stories, then tests and defects. One pass
// converges because the hierarchy depth is fixed.
func (r *Resolver) ProcessFullInheritanceChain(ctx context.Context, force bool) (*BatchStats, error) {
	combined := &BatchStats{}

	passes := []func(context.Context, bool) (*BatchStats, error){
		r.ProcessAllEpicInheritance,
		r.ProcessAllStoryInheritance,
		r.ProcessAllTestInheritance,
		r.ProcessAllDefectInheritance,
	}
	for _, pass := range passes {
		stats, err := pass(ctx, force)
		if err != nil {
			return combined, err
		}
		combined.Add(*stats)
	}
	return combined, nil
}

func (r *Resolver) logEntityError(kind types.EntityKind, id int64, err error) {
	debug.Logf("inherit: %s %d: %v\n", kind, id, err)
	if r.Log != nil {
		r.Log.Printf("inherit error: %s %d: %v", kind, id, err)
	}
}
