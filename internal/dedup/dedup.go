// Package dedup collapses duplicate test rows accumulated by repeated
// imports down to one canonical survivor per identity key, removes rows
// whose source files are gone, and normalizes path encodings. Runs as
// five sequential phases, each feeding the next; live mode commits per
// phase so a rerun after a mid-run failure picks up where it stopped.
package dedup

import (
	"context"
	"fmt"
	"sort"

	"github.com/stitchtrace/stitch/internal/runlog"
	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
	"github.com/stitchtrace/stitch/internal/utils"
)

// Phase names, in execution order.
const (
	PhaseExactDuplicates = "exact_duplicates"
	PhaseSurvivorScoring = "survivor_scoring"
	PhaseOrphanRemoval   = "orphan_removal"
	PhaseEpicConsolidate = "epic_consolidation"
	PhaseSeparatorMerge  = "separator_normalization"
)

// Options controls one deduplication run.
type Options struct {
	// DryRun computes and reports the full plan without writing.
	DryRun bool
}

// PhaseResult summarizes one phase.
type PhaseResult struct {
	Name    string   `json:"name"`
	Groups  int      `json:"groups"`
	Removed int      `json:"removed"`
	Updated int      `json:"updated"`
	Details []string `json:"details,omitempty"`
}

// Result summarizes a full run.
type Result struct {
	DryRun       bool          `json:"dry_run"`
	InitialCount int           `json:"initial_count"`
	FinalCount   int           `json:"final_count"`
	Removed      int           `json:"removed"`
	Phases       []PhaseResult `json:"phases"`
}

// Engine owns one deduplication pipeline over a store.
type Engine struct {
	store storage.Storage

	// Score ranks duplicate rows. Defaults to DefaultScore.
	Score ScoreFunc
	// Paths resolves recorded file paths for orphan detection. Defaults
	// to an OS checker over DefaultRoots.
	Paths PathChecker
	// Actor is recorded on audit events.
	Actor string
	// Log, when set, receives per-phase records.
	Log *runlog.Logger
}

// NewEngine returns an Engine with default scoring and path checking,
// writing events as actor "dedup".
func NewEngine(store storage.Storage) *Engine {
	return &Engine{
		store: store,
		Score: DefaultScore,
		Paths: NewOSPathChecker(),
		Actor: "dedup",
	}
}

// identityKey is the duplicate-grouping key.
type identityKey struct {
	function string
	path     string
}

// phasePlan is the set of mutations one phase wants to make.
type phasePlan struct {
	deleteIDs    []int64
	deleteReason types.EventType
	updates      []plannedUpdate
}

type plannedUpdate struct {
	id     int64
	fields map[string]interface{}
}

func (p *phasePlan) empty() bool {
	return len(p.deleteIDs) == 0 && len(p.updates) == 0
}

// Run executes the five phases in order. Dry-run performs all analysis
// against an in-memory working set and reports the plan; live mode
// additionally commits each phase in its own transaction.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	initial, err := e.store.CountTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tests: %w", err)
	}

	tests, err := e.store.ListTests(ctx, types.TestFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}

	result := &Result{DryRun: opts.DryRun, InitialCount: initial}
	e.logf("dedup run started: %d tests, dry_run=%v", initial, opts.DryRun)

	type phase struct {
		name string
		run  func([]*types.Test) (PhaseResult, *phasePlan)
	}
	phases := []phase{
		{PhaseExactDuplicates, e.detectExactDuplicates},
		{PhaseSurvivorScoring, e.scoreSurvivors},
		{PhaseOrphanRemoval, e.removeOrphans},
		{PhaseEpicConsolidate, e.consolidateEpics},
		{PhaseSeparatorMerge, e.mergeSeparatorVariants},
	}

	for _, ph := range phases {
		phaseResult, plan := ph.run(tests)
		if err := e.apply(ctx, opts, plan); err != nil {
			return result, fmt.Errorf("phase %s failed: %w", ph.name, err)
		}
		tests = applyToWorkingSet(tests, plan)
		result.Phases = append(result.Phases, phaseResult)
		result.Removed += phaseResult.Removed
		e.logf("phase %s: groups=%d removed=%d updated=%d",
			ph.name, phaseResult.Groups, phaseResult.Removed, phaseResult.Updated)
	}

	if opts.DryRun {
		result.FinalCount = len(tests)
	} else {
		final, err := e.store.CountTests(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to count tests: %w", err)
		}
		result.FinalCount = final
	}
	e.logf("dedup run finished: %d -> %d (removed %d)", result.InitialCount, result.FinalCount, result.Removed)
	return result, nil
}

// detectExactDuplicates reports groups sharing (function_name, file_path)
// verbatim. Detection only; scoring deletes.
func (e *Engine) detectExactDuplicates(tests []*types.Test) (PhaseResult, *phasePlan) {
	res := PhaseResult{Name: PhaseExactDuplicates}
	for _, group := range duplicateGroups(tests, exactKey) {
		res.Groups++
		res.Details = append(res.Details, fmt.Sprintf(
			"%d rows for %s @ %s", len(group), group[0].FunctionName, group[0].FilePath))
	}
	return res, &phasePlan{}
}

// scoreSurvivors keeps the highest-scoring row of each exact-duplicate
// group and deletes the rest.
func (e *Engine) scoreSurvivors(tests []*types.Test) (PhaseResult, *phasePlan) {
	res := PhaseResult{Name: PhaseSurvivorScoring}
	plan := &phasePlan{deleteReason: types.EventDuplicateRemoved}

	for _, group := range duplicateGroups(tests, exactKey) {
		res.Groups++
		survivor := e.pickSurvivor(group, e.Score)
		for _, t := range group {
			if t.ID == survivor.ID {
				continue
			}
			plan.deleteIDs = append(plan.deleteIDs, t.ID)
			res.Removed++
			res.Details = append(res.Details, fmt.Sprintf(
				"remove test %d (%s @ %s), superseded by %d", t.ID, t.FunctionName, t.FilePath, survivor.ID))
		}
	}
	return res, plan
}

// removeOrphans deletes rows whose file path no longer resolves.
func (e *Engine) removeOrphans(tests []*types.Test) (PhaseResult, *phasePlan) {
	res := PhaseResult{Name: PhaseOrphanRemoval}
	plan := &phasePlan{deleteReason: types.EventOrphanRemoved}

	for _, t := range tests {
		if e.Paths.Exists(t.FilePath) {
			continue
		}
		plan.deleteIDs = append(plan.deleteIDs, t.ID)
		res.Removed++
		res.Details = append(res.Details, fmt.Sprintf(
			"remove orphan test %d (%s @ %s)", t.ID, t.FunctionName, t.FilePath))
	}
	return res, plan
}

// consolidateEpics assigns the modal non-null epic to every row of a
// normalized identity group whose epic assignments disagree.
func (e *Engine) consolidateEpics(tests []*types.Test) (PhaseResult, *phasePlan) {
	res := PhaseResult{Name: PhaseEpicConsolidate}
	plan := &phasePlan{}

	for _, group := range duplicateGroups(tests, normalizedKey) {
		modal, disagree := modalEpic(group)
		if modal == nil || !disagree {
			continue
		}
		res.Groups++
		for _, t := range group {
			if t.EpicID != nil && *t.EpicID == *modal {
				continue
			}
			plan.updates = append(plan.updates, plannedUpdate{
				id:     t.ID,
				fields: map[string]interface{}{"epic_id": *modal},
			})
			res.Updated++
			res.Details = append(res.Details, fmt.Sprintf(
				"assign epic %d to test %d (%s)", *modal, t.ID, t.FunctionName))
		}
	}
	return res, plan
}

// mergeSeparatorVariants merges rows identical after separator
// normalization, preferring '/'-style paths, and rewrites the
// survivor's path to the normalized form.
func (e *Engine) mergeSeparatorVariants(tests []*types.Test) (PhaseResult, *phasePlan) {
	res := PhaseResult{Name: PhaseSeparatorMerge}
	plan := &phasePlan{deleteReason: types.EventDuplicateRemoved}

	slashBonus := func(t *types.Test) float64 {
		score := e.Score(t)
		if utils.IsSlashStyle(t.FilePath) {
			score += 1
		}
		return score
	}

	for _, group := range duplicateGroups(tests, normalizedKey) {
		res.Groups++
		survivor := e.pickSurvivor(group, slashBonus)
		for _, t := range group {
			if t.ID == survivor.ID {
				continue
			}
			plan.deleteIDs = append(plan.deleteIDs, t.ID)
			res.Removed++
			res.Details = append(res.Details, fmt.Sprintf(
				"merge test %d (%s) into %d", t.ID, t.FilePath, survivor.ID))
		}
		normalized := utils.NormalizeTestPath(survivor.FilePath)
		if normalized != survivor.FilePath {
			plan.updates = append(plan.updates, plannedUpdate{
				id:     survivor.ID,
				fields: map[string]interface{}{"file_path": normalized},
			})
			res.Updated++
			res.Details = append(res.Details, fmt.Sprintf(
				"rewrite test %d path %q -> %q", survivor.ID, survivor.FilePath, normalized))
		}
	}
	return res, plan
}

// pickSurvivor returns the highest-scoring row of a group.
func (e *Engine) pickSurvivor(group []*types.Test, score ScoreFunc) *types.Test {
	best := group[0]
	bestScore := score(best)
	for _, t := range group[1:] {
		if s := score(t); s > bestScore {
			best, bestScore = t, s
		}
	}
	return best
}

// apply commits one phase's plan inside its own transaction. Dry-run
// applies nothing.
func (e *Engine) apply(ctx context.Context, opts Options, plan *phasePlan) error {
	if opts.DryRun || plan.empty() {
		return nil
	}
	return e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if len(plan.deleteIDs) > 0 {
			if err := tx.DeleteTests(ctx, plan.deleteIDs, plan.deleteReason, e.Actor); err != nil {
				return err
			}
		}
		for _, u := range plan.updates {
			if err := tx.UpdateTest(ctx, u.id, u.fields, e.Actor); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyToWorkingSet mirrors a phase's plan onto the in-memory rows so
// later phases (and dry-run counts) see its effect.
func applyToWorkingSet(tests []*types.Test, plan *phasePlan) []*types.Test {
	if plan.empty() {
		return tests
	}
	deleted := make(map[int64]bool, len(plan.deleteIDs))
	for _, id := range plan.deleteIDs {
		deleted[id] = true
	}
	updates := make(map[int64]map[string]interface{}, len(plan.updates))
	for _, u := range plan.updates {
		updates[u.id] = u.fields
	}

	kept := tests[:0]
	for _, t := range tests {
		if deleted[t.ID] {
			continue
		}
		if fields, ok := updates[t.ID]; ok {
			if v, ok := fields["epic_id"]; ok {
				id := v.(int64)
				t.EpicID = &id
			}
			if v, ok := fields["file_path"]; ok {
				t.FilePath = v.(string)
			}
		}
		kept = append(kept, t)
	}
	return kept
}

// exactKey groups rows sharing function name and verbatim path. The
// second return excludes rows missing either half of the key.
func exactKey(t *types.Test) (identityKey, bool) {
	if t.FunctionName == "" || t.FilePath == "" {
		return identityKey{}, false
	}
	return identityKey{function: t.FunctionName, path: t.FilePath}, true
}

// normalizedKey groups rows sharing function name and separator-
// normalized path.
func normalizedKey(t *types.Test) (identityKey, bool) {
	if t.FunctionName == "" || t.FilePath == "" {
		return identityKey{}, false
	}
	return identityKey{function: t.FunctionName, path: utils.NormalizeTestPath(t.FilePath)}, true
}

// duplicateGroups returns the groups with more than one row, ordered by
// key for stable output.
func duplicateGroups(tests []*types.Test, key func(*types.Test) (identityKey, bool)) [][]*types.Test {
	byKey := make(map[identityKey][]*types.Test)
	for _, t := range tests {
		k, ok := key(t)
		if !ok {
			continue
		}
		byKey[k] = append(byKey[k], t)
	}

	keys := make([]identityKey, 0, len(byKey))
	for k, group := range byKey {
		if len(group) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].path != keys[j].path {
			return keys[i].path < keys[j].path
		}
		return keys[i].function < keys[j].function
	})

	groups := make([][]*types.Test, 0, len(keys))
	for _, k := range keys {
		group := byKey[k]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		groups = append(groups, group)
	}
	return groups
}

// modalEpic returns the most frequent non-null epic id in a group (ties
// broken by the smaller id) and whether the group actually disagrees. A
// null assignment alongside a set one counts as disagreement.
func modalEpic(group []*types.Test) (*int64, bool) {
	counts := make(map[int64]int)
	for _, t := range group {
		if t.EpicID != nil {
			counts[*t.EpicID]++
		}
	}
	if len(counts) == 0 {
		return nil, false
	}

	disagree := len(counts) > 1
	if !disagree {
		for _, t := range group {
			if t.EpicID == nil {
				disagree = true
				break
			}
		}
	}

	ids := make([]int64, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var modal int64
	best := -1
	for _, id := range ids {
		if counts[id] > best {
			modal, best = id, counts[id]
		}
	}
	return &modal, disagree
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
	}
}
