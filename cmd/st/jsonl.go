package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

// JSONL interchange format. Each line is one record tagged with a kind;
// cross-references use business keys (epic "EP-1", capability "CAP-1")
// rather than row ids so files survive re-import into a fresh database.
//
// Keyed kinds (capability, epic, user_story, defect) upsert by business
// key. Test records always insert raw rows: duplicate accumulation is
// the expected input state that st dedup later collapses.

type wireCapability struct {
	Kind           types.EntityKind `json:"kind"`
	CapabilityID   string           `json:"capability_id"`
	Name           string           `json:"name"`
	Component      string           `json:"component,omitempty"`
	StrategicTheme string           `json:"strategic_theme,omitempty"`
	BusinessValue  string           `json:"business_value,omitempty"`
}

type wireEpic struct {
	Kind                types.EntityKind `json:"kind"`
	EpicID              string           `json:"epic_id"`
	Title               string           `json:"title"`
	Component           string           `json:"component,omitempty"`
	Capability          string           `json:"capability,omitempty"`
	Status              types.Status     `json:"status,omitempty"`
	Priority            types.Priority   `json:"priority,omitempty"`
	EstimatedImpactDays float64          `json:"estimated_impact_days,omitempty"`
}

type wireUserStory struct {
	Kind        types.EntityKind `json:"kind"`
	UserStoryID string           `json:"user_story_id"`
	Title       string           `json:"title"`
	Epic        string           `json:"epic"`
	Component   string           `json:"component,omitempty"`
	IssueNumber *int             `json:"issue_number,omitempty"`
	Status      types.Status     `json:"status,omitempty"`
}

type wireTest struct {
	Kind                types.EntityKind `json:"kind"`
	FunctionName        string           `json:"function_name"`
	FilePath            string           `json:"file_path"`
	Component           string           `json:"component,omitempty"`
	Epic                string           `json:"epic,omitempty"`
	UserStoryIssue      *int             `json:"user_story_issue,omitempty"`
	DefectIssue         *int             `json:"defect_issue,omitempty"`
	TestCategory        string           `json:"test_category,omitempty"`
	Priority            types.Priority   `json:"priority,omitempty"`
	PriorityExplicit    *bool            `json:"priority_explicit,omitempty"`
	LastExecutionTime   *time.Time       `json:"last_execution_time,omitempty"`
	LastExecutionStatus string           `json:"last_execution_status,omitempty"`
}

type wireDefect struct {
	Kind           types.EntityKind   `json:"kind"`
	DefectID       string             `json:"defect_id"`
	Title          string             `json:"title"`
	Component      string             `json:"component,omitempty"`
	Epic           string             `json:"epic,omitempty"`
	UserStoryIssue *int               `json:"user_story_issue,omitempty"`
	TestID         *int64             `json:"test_id,omitempty"`
	Severity       types.Severity     `json:"severity,omitempty"`
	Status         types.DefectStatus `json:"status,omitempty"`
}

type wireDependency struct {
	Kind                types.EntityKind     `json:"kind"`
	ParentEpic          string               `json:"parent_epic"`
	DependentEpic       string               `json:"dependent_epic"`
	DependencyType      types.DependencyType `json:"dependency_type,omitempty"`
	Priority            types.Priority       `json:"priority,omitempty"`
	EstimatedImpactDays float64              `json:"estimated_impact_days,omitempty"`
	IsResolved          bool                 `json:"is_resolved,omitempty"`
	ResolutionDate      *time.Time           `json:"resolution_date,omitempty"`
}

// importCounts tallies one kind's outcome.
type importCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// importSummary reports a whole import run.
type importSummary struct {
	Lines  int                      `json:"lines"`
	Counts map[string]*importCounts `json:"counts"`
	Errors []string                 `json:"errors,omitempty"`
}

func (s *importSummary) counts(kind types.EntityKind) *importCounts {
	c, ok := s.Counts[string(kind)]
	if !ok {
		c = &importCounts{}
		s.Counts[string(kind)] = c
	}
	return c
}

// rowError records a per-row failure and keeps the batch going.
func (s *importSummary) rowError(kind types.EntityKind, line int, err error) {
	s.counts(kind).Skipped++
	s.Errors = append(s.Errors, fmt.Sprintf("line %d (%s): %v", line, kind, err))
}

type rawRecord struct {
	line int
	data []byte
}

// readRecords splits JSONL input into per-kind raw records, preserving
// line numbers for error reporting. Lines that fail to parse at all are
// returned as errors in the summary later; here they fail the read.
func readRecords(r io.Reader) (map[types.EntityKind][]rawRecord, int, error) {
	batch := make(map[types.EntityKind][]rawRecord)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lines := 0
	n := 0
	for scanner.Scan() {
		n++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		lines++

		var envelope struct {
			Kind types.EntityKind `json:"kind"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, lines, fmt.Errorf("line %d: invalid JSON: %w", n, err)
		}
		if !envelope.Kind.IsValid() {
			return nil, lines, fmt.Errorf("line %d: unknown kind %q", n, envelope.Kind)
		}

		record := rawRecord{line: n, data: append([]byte(nil), data...)}
		batch[envelope.Kind] = append(batch[envelope.Kind], record)
	}
	if err := scanner.Err(); err != nil {
		return nil, lines, fmt.Errorf("failed to read input: %w", err)
	}
	return batch, lines, nil
}

// importRecords applies a parsed batch in dependency order so forward
// references between kinds resolve regardless of line order in the file.
// Per-row failures (validation, integrity violations, unresolvable keys)
// are recorded and skipped; only storage-level list/read failures abort.
func importRecords(ctx context.Context, st storage.Storage, batch map[types.EntityKind][]rawRecord, lines int, actor string) (*importSummary, error) {
	sum := &importSummary{Lines: lines, Counts: make(map[string]*importCounts)}

	importCapabilities(ctx, st, batch[types.KindCapability], actor, sum)
	importEpics(ctx, st, batch[types.KindEpic], actor, sum)
	importUserStories(ctx, st, batch[types.KindUserStory], actor, sum)
	importDefects(ctx, st, batch[types.KindDefect], actor, sum)
	importTests(ctx, st, batch[types.KindTest], actor, sum)
	importDependencies(ctx, st, batch[types.KindDependency], actor, sum)

	return sum, nil
}

func importCapabilities(ctx context.Context, st storage.Storage, records []rawRecord, actor string, sum *importSummary) {
	for _, rec := range records {
		var w wireCapability
		if err := json.Unmarshal(rec.data, &w); err != nil {
			sum.rowError(types.KindCapability, rec.line, err)
			continue
		}

		existing, err := st.GetCapabilityByKey(ctx, w.CapabilityID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			sum.rowError(types.KindCapability, rec.line, err)
			continue
		}

		if existing == nil {
			c := &types.Capability{
				CapabilityID:   w.CapabilityID,
				Name:           w.Name,
				Component:      w.Component,
				StrategicTheme: w.StrategicTheme,
				BusinessValue:  w.BusinessValue,
			}
			if err := st.CreateCapability(ctx, c, actor); err != nil {
				sum.rowError(types.KindCapability, rec.line, err)
				continue
			}
			sum.counts(types.KindCapability).Created++
			continue
		}

		updates := map[string]interface{}{
			"name":            w.Name,
			"component":       w.Component,
			"strategic_theme": w.StrategicTheme,
			"business_value":  w.BusinessValue,
		}
		if err := st.UpdateCapability(ctx, existing.ID, updates, actor); err != nil {
			sum.rowError(types.KindCapability, rec.line, err)
			continue
		}
		sum.counts(types.KindCapability).Updated++
	}
}

func importEpics(ctx context.Context, st storage.Storage, records []rawRecord, actor string, sum *importSummary) {
	for _, rec := range records {
		var w wireEpic
		if err := json.Unmarshal(rec.data, &w); err != nil {
			sum.rowError(types.KindEpic, rec.line, err)
			continue
		}
		if w.Status == "" {
			w.Status = types.StatusPlanned
		}
		if w.Priority == "" {
			w.Priority = types.PriorityMedium
		}

		var capabilityID *int64
		if w.Capability != "" {
			c, err := st.GetCapabilityByKey(ctx, w.Capability)
			if err != nil {
				sum.rowError(types.KindEpic, rec.line, fmt.Errorf("capability %q: %w", w.Capability, err))
				continue
			}
			capabilityID = &c.ID
		}

		existing, err := st.GetEpicByKey(ctx, w.EpicID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			sum.rowError(types.KindEpic, rec.line, err)
			continue
		}

		if existing == nil {
			epic := &types.Epic{
				EpicID:              w.EpicID,
				Title:               w.Title,
				Component:           w.Component,
				CapabilityID:        capabilityID,
				Status:              w.Status,
				Priority:            w.Priority,
				EstimatedImpactDays: w.EstimatedImpactDays,
			}
			if err := st.CreateEpic(ctx, epic, actor); err != nil {
				sum.rowError(types.KindEpic, rec.line, err)
				continue
			}
			sum.counts(types.KindEpic).Created++
			continue
		}

		updates := map[string]interface{}{
			"title":                 w.Title,
			"component":             w.Component,
			"capability_id":         capabilityID,
			"status":                w.Status,
			"priority":              w.Priority,
			"estimated_impact_days": w.EstimatedImpactDays,
		}
		if err := st.UpdateEpic(ctx, existing.ID, updates, actor); err != nil {
			sum.rowError(types.KindEpic, rec.line, err)
			continue
		}
		sum.counts(types.KindEpic).Updated++
	}
}

func importUserStories(ctx context.Context, st storage.Storage, records []rawRecord, actor string, sum *importSummary) {
	for _, rec := range records {
		var w wireUserStory
		if err := json.Unmarshal(rec.data, &w); err != nil {
			sum.rowError(types.KindUserStory, rec.line, err)
			continue
		}
		if w.Status == "" {
			w.Status = types.StatusPlanned
		}

		epic, err := st.GetEpicByKey(ctx, w.Epic)
		if err != nil {
			sum.rowError(types.KindUserStory, rec.line, fmt.Errorf("epic %q: %w", w.Epic, err))
			continue
		}

		existing, err := st.GetUserStoryByKey(ctx, w.UserStoryID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			sum.rowError(types.KindUserStory, rec.line, err)
			continue
		}

		if existing == nil {
			story := &types.UserStory{
				UserStoryID: w.UserStoryID,
				Title:       w.Title,
				EpicID:      epic.ID,
				Component:   w.Component,
				IssueNumber: w.IssueNumber,
				Status:      w.Status,
			}
			if err := st.CreateUserStory(ctx, story, actor); err != nil {
				sum.rowError(types.KindUserStory, rec.line, err)
				continue
			}
			sum.counts(types.KindUserStory).Created++
			continue
		}

		updates := map[string]interface{}{
			"title":        w.Title,
			"component":    w.Component,
			"epic_id":      epic.ID,
			"issue_number": w.IssueNumber,
			"status":       w.Status,
		}
		if err := st.UpdateUserStory(ctx, existing.ID, updates, actor); err != nil {
			sum.rowError(types.KindUserStory, rec.line, err)
			continue
		}
		sum.counts(types.KindUserStory).Updated++
	}
}

func importDefects(ctx context.Context, st storage.Storage, records []rawRecord, actor string, sum *importSummary) {
	for _, rec := range records {
		var w wireDefect
		if err := json.Unmarshal(rec.data, &w); err != nil {
			sum.rowError(types.KindDefect, rec.line, err)
			continue
		}
		if w.Severity == "" {
			w.Severity = types.SeverityMedium
		}
		if w.Status == "" {
			w.Status = types.DefectOpen
		}

		var epicID *int64
		if w.Epic != "" {
			epic, err := st.GetEpicByKey(ctx, w.Epic)
			if err != nil {
				sum.rowError(types.KindDefect, rec.line, fmt.Errorf("epic %q: %w", w.Epic, err))
				continue
			}
			epicID = &epic.ID
		}

		existing, err := st.GetDefectByKey(ctx, w.DefectID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			sum.rowError(types.KindDefect, rec.line, err)
			continue
		}

		if existing == nil {
			defect := &types.Defect{
				DefectID:       w.DefectID,
				Title:          w.Title,
				Component:      w.Component,
				EpicID:         epicID,
				UserStoryIssue: w.UserStoryIssue,
				TestID:         w.TestID,
				Severity:       w.Severity,
				Status:         w.Status,
			}
			if err := st.CreateDefect(ctx, defect, actor); err != nil {
				sum.rowError(types.KindDefect, rec.line, err)
				continue
			}
			sum.counts(types.KindDefect).Created++
			continue
		}

		updates := map[string]interface{}{
			"title":            w.Title,
			"component":        w.Component,
			"epic_id":          epicID,
			"user_story_issue": w.UserStoryIssue,
			"test_id":          w.TestID,
			"severity":         w.Severity,
			"status":           w.Status,
		}
		if err := st.UpdateDefect(ctx, existing.ID, updates, actor); err != nil {
			sum.rowError(types.KindDefect, rec.line, err)
			continue
		}
		sum.counts(types.KindDefect).Updated++
	}
}

func importTests(ctx context.Context, st storage.Storage, records []rawRecord, actor string, sum *importSummary) {
	for _, rec := range records {
		var w wireTest
		if err := json.Unmarshal(rec.data, &w); err != nil {
			sum.rowError(types.KindTest, rec.line, err)
			continue
		}
		if w.Priority == "" {
			w.Priority = types.PriorityMedium
		}
		// Legacy records predate the explicit-priority flag; treat any
		// non-default priority as deliberately chosen.
		explicit := w.Priority != types.PriorityMedium
		if w.PriorityExplicit != nil {
			explicit = *w.PriorityExplicit
		}

		var epicID *int64
		if w.Epic != "" {
			epic, err := st.GetEpicByKey(ctx, w.Epic)
			if err != nil {
				sum.rowError(types.KindTest, rec.line, fmt.Errorf("epic %q: %w", w.Epic, err))
				continue
			}
			epicID = &epic.ID
		}

		test := &types.Test{
			FunctionName:        w.FunctionName,
			FilePath:            w.FilePath,
			Component:           w.Component,
			EpicID:              epicID,
			UserStoryIssue:      w.UserStoryIssue,
			DefectIssue:         w.DefectIssue,
			TestCategory:        w.TestCategory,
			Priority:            w.Priority,
			PriorityExplicit:    explicit,
			LastExecutionTime:   w.LastExecutionTime,
			LastExecutionStatus: w.LastExecutionStatus,
		}
		if err := st.CreateTest(ctx, test, actor); err != nil {
			sum.rowError(types.KindTest, rec.line, err)
			continue
		}
		sum.counts(types.KindTest).Created++
	}
}

func importDependencies(ctx context.Context, st storage.Storage, records []rawRecord, actor string, sum *importSummary) {
	for _, rec := range records {
		var w wireDependency
		if err := json.Unmarshal(rec.data, &w); err != nil {
			sum.rowError(types.KindDependency, rec.line, err)
			continue
		}
		if w.DependencyType == "" {
			w.DependencyType = types.DepPrerequisite
		}
		if w.Priority == "" {
			w.Priority = types.PriorityMedium
		}

		parent, err := st.GetEpicByKey(ctx, w.ParentEpic)
		if err != nil {
			sum.rowError(types.KindDependency, rec.line, fmt.Errorf("parent epic %q: %w", w.ParentEpic, err))
			continue
		}
		dependent, err := st.GetEpicByKey(ctx, w.DependentEpic)
		if err != nil {
			sum.rowError(types.KindDependency, rec.line, fmt.Errorf("dependent epic %q: %w", w.DependentEpic, err))
			continue
		}

		dep := &types.EpicDependency{
			ParentEpicID:        parent.ID,
			DependentEpicID:     dependent.ID,
			DependencyType:      w.DependencyType,
			Priority:            w.Priority,
			EstimatedImpactDays: w.EstimatedImpactDays,
			IsActive:            !w.IsResolved,
			IsResolved:          w.IsResolved,
			ResolutionDate:      w.ResolutionDate,
		}
		if err := st.AddEpicDependency(ctx, dep, actor); err != nil {
			// Self-loops and duplicate edges are data defects in the
			// input, not reasons to abort the batch.
			sum.rowError(types.KindDependency, rec.line, err)
			continue
		}
		sum.counts(types.KindDependency).Created++
	}
}

// exportRecords writes the graph as JSONL in a fixed kind order, each
// kind in its storage order, so identical databases export identical
// bytes. Kinds may be restricted to a single one.
func exportRecords(ctx context.Context, st storage.Storage, w io.Writer, only types.EntityKind) error {
	enc := json.NewEncoder(w)

	capabilities, err := st.ListCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list capabilities: %w", err)
	}
	epics, err := st.ListEpics(ctx, types.EpicFilter{})
	if err != nil {
		return fmt.Errorf("failed to list epics: %w", err)
	}

	capKeyByID := make(map[int64]string, len(capabilities))
	for _, c := range capabilities {
		capKeyByID[c.ID] = c.CapabilityID
	}
	epicKeyByID := make(map[int64]string, len(epics))
	for _, e := range epics {
		epicKeyByID[e.ID] = e.EpicID
	}

	include := func(kind types.EntityKind) bool {
		return only == "" || only == kind
	}

	if include(types.KindCapability) {
		for _, c := range capabilities {
			record := wireCapability{
				Kind:           types.KindCapability,
				CapabilityID:   c.CapabilityID,
				Name:           c.Name,
				Component:      c.Component,
				StrategicTheme: c.StrategicTheme,
				BusinessValue:  c.BusinessValue,
			}
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("failed to encode capability: %w", err)
			}
		}
	}

	if include(types.KindEpic) {
		for _, e := range epics {
			record := wireEpic{
				Kind:                types.KindEpic,
				EpicID:              e.EpicID,
				Title:               e.Title,
				Component:           e.Component,
				Status:              e.Status,
				Priority:            e.Priority,
				EstimatedImpactDays: e.EstimatedImpactDays,
			}
			if e.CapabilityID != nil {
				record.Capability = capKeyByID[*e.CapabilityID]
			}
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("failed to encode epic: %w", err)
			}
		}
	}

	if include(types.KindUserStory) {
		stories, err := st.ListUserStories(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to list user stories: %w", err)
		}
		for _, s := range stories {
			record := wireUserStory{
				Kind:        types.KindUserStory,
				UserStoryID: s.UserStoryID,
				Title:       s.Title,
				Epic:        epicKeyByID[s.EpicID],
				Component:   s.Component,
				IssueNumber: s.IssueNumber,
				Status:      s.Status,
			}
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("failed to encode user story: %w", err)
			}
		}
	}

	if include(types.KindDefect) {
		defects, err := st.ListDefects(ctx, types.DefectFilter{})
		if err != nil {
			return fmt.Errorf("failed to list defects: %w", err)
		}
		for _, d := range defects {
			record := wireDefect{
				Kind:           types.KindDefect,
				DefectID:       d.DefectID,
				Title:          d.Title,
				Component:      d.Component,
				UserStoryIssue: d.UserStoryIssue,
				TestID:         d.TestID,
				Severity:       d.Severity,
				Status:         d.Status,
			}
			if d.EpicID != nil {
				record.Epic = epicKeyByID[*d.EpicID]
			}
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("failed to encode defect: %w", err)
			}
		}
	}

	if include(types.KindTest) {
		tests, err := st.ListTests(ctx, types.TestFilter{})
		if err != nil {
			return fmt.Errorf("failed to list tests: %w", err)
		}
		for _, t := range tests {
			explicit := t.PriorityExplicit
			record := wireTest{
				Kind:                types.KindTest,
				FunctionName:        t.FunctionName,
				FilePath:            t.FilePath,
				Component:           t.Component,
				UserStoryIssue:      t.UserStoryIssue,
				DefectIssue:         t.DefectIssue,
				TestCategory:        t.TestCategory,
				Priority:            t.Priority,
				PriorityExplicit:    &explicit,
				LastExecutionTime:   t.LastExecutionTime,
				LastExecutionStatus: t.LastExecutionStatus,
			}
			if t.EpicID != nil {
				record.Epic = epicKeyByID[*t.EpicID]
			}
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("failed to encode test: %w", err)
			}
		}
	}

	if include(types.KindDependency) {
		deps, err := st.ListEpicDependencies(ctx, false)
		if err != nil {
			return fmt.Errorf("failed to list dependencies: %w", err)
		}
		for _, d := range deps {
			record := wireDependency{
				Kind:                types.KindDependency,
				ParentEpic:          epicKeyByID[d.ParentEpicID],
				DependentEpic:       epicKeyByID[d.DependentEpicID],
				DependencyType:      d.DependencyType,
				Priority:            d.Priority,
				EstimatedImpactDays: d.EstimatedImpactDays,
				IsResolved:          d.IsResolved,
				ResolutionDate:      d.ResolutionDate,
			}
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("failed to encode dependency: %w", err)
			}
		}
	}

	return nil
}
