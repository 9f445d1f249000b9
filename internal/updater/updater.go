package updater

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/internal/summary"
)

// ColumnChange lists the columns added to or removed from a table present in both models
type ColumnChange struct {
	Object  identity.DatabaseObject
	Added   []string
	Removed []string
	// Owner is the existing entity type that should receive added columns:
	// the root-most ancestor mapped to the table, or the type mapped to it
	Owner string
	// Inherited is set when Owner is an ancestor of a type mapped to the table
	Inherited bool
}

// EntityTypeMatch pairs an updated entity type with the existing one mapped to exactly the same tables
type EntityTypeMatch struct {
	Existing string
	Updated  string
}

// UpdatePlan describes how the existing model differs from the model generated from the database
type UpdatePlan struct {
	NewTables     []identity.DatabaseObject
	DroppedTables []identity.DatabaseObject
	ColumnChanges []ColumnChange

	NewEntityTypes       []string
	MatchedEntityTypes   []EntityTypeMatch
	UnmatchedEntityTypes []string

	NewAssociations   []string
	KeptAssociations  []string
	StaleAssociations []string

	NewFunctions     []identity.DatabaseObject
	DroppedFunctions []identity.DatabaseObject

	// AffectedEntityTypes lists, for each dropped table, the existing entity types mapped to it
	AffectedEntityTypes map[identity.DatabaseObject][]string
}

// IsEmpty reports whether the plan carries no changes
func (p *UpdatePlan) IsEmpty() bool {
	return len(p.NewTables) == 0 && len(p.DroppedTables) == 0 && len(p.ColumnChanges) == 0 &&
		len(p.NewEntityTypes) == 0 && len(p.NewAssociations) == 0 && len(p.StaleAssociations) == 0 &&
		len(p.NewFunctions) == 0 && len(p.DroppedFunctions) == 0
}

// LogFields returns the plan as structured log fields
func (p *UpdatePlan) LogFields() logrus.Fields {
	return logrus.Fields{
		"new_tables":         len(p.NewTables),
		"dropped_tables":     len(p.DroppedTables),
		"column_changes":     len(p.ColumnChanges),
		"new_entity_types":   len(p.NewEntityTypes),
		"matched_types":      len(p.MatchedEntityTypes),
		"new_associations":   len(p.NewAssociations),
		"kept_associations":  len(p.KeptAssociations),
		"stale_associations": len(p.StaleAssociations),
		"new_functions":      len(p.NewFunctions),
	}
}

// Updater reconciles an existing model with one generated from the database
type Updater struct {
	Logger *logrus.Logger
}

// NewUpdater creates a new updater
func NewUpdater(logger *logrus.Logger) *Updater {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Updater{Logger: logger}
}

// Reconcile compares the two summaries. Entity types resolved from the
// existing summary are looked up in live, which may have been reloaded since
// the summary was built.
func (u *Updater) Reconcile(existing *summary.ExistingModelSummary, updated *summary.UpdatedModelSummary, live *artifact.Artifact) (*UpdatePlan, error) {
	if existing == nil || updated == nil {
		return nil, fmt.Errorf("reconcile requires both an existing and an updated model summary")
	}
	if live == nil {
		live = existing.Artifact()
	}
	if !existing.IsCurrent(live) {
		u.Logger.Debugf("Artifact %s was reloaded after it was summarized, resolving against generation %s", live.URI, live.Generation())
	}

	plan := &UpdatePlan{AffectedEntityTypes: make(map[identity.DatabaseObject][]string)}
	u.reconcileTables(plan, existing, updated, live)
	u.reconcileEntityTypes(plan, existing, updated, live)
	u.reconcileAssociations(plan, existing, updated)
	u.reconcileFunctions(plan, existing, updated)

	u.Logger.WithFields(plan.LogFields()).Info("Reconciled model with database")
	return plan, nil
}

func (u *Updater) reconcileTables(plan *UpdatePlan, existing *summary.ExistingModelSummary, updated *summary.UpdatedModelSummary, live *artifact.Artifact) {
	for _, obj := range updated.AllTablesAndViews() {
		if _, ok := existing.LocalName(obj); !ok {
			plan.NewTables = append(plan.NewTables, obj)
			continue
		}

		added, removed := diffNames(existing.ColumnsForDatabaseObject(obj), updated.ColumnsForDatabaseObject(obj))
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		change := ColumnChange{Object: obj, Added: added, Removed: removed}
		if types := existing.EntityTypesForDatabaseObject(live, obj); len(types) > 0 {
			owner := types[0]
			if root := existing.FindRootAncestorTypeThatMapsToDbObject(live, owner, obj); root != nil {
				owner = root
				change.Inherited = true
			}
			change.Owner = live.EntityTypeName(owner)
		}
		plan.ColumnChanges = append(plan.ColumnChanges, change)
	}

	for _, obj := range existing.AllTablesAndViews() {
		if _, ok := updated.LocalName(obj); ok {
			continue
		}
		plan.DroppedTables = append(plan.DroppedTables, obj)
		for _, et := range existing.EntityTypesForDatabaseObject(live, obj) {
			plan.AffectedEntityTypes[obj] = append(plan.AffectedEntityTypes[obj], live.EntityTypeName(et))
		}
	}
}

// reconcileEntityTypes matches entity types by exact table set. Updated types
// whose tables are all new are proposed as new types; anything else is left
// to the existing mapping.
func (u *Updater) reconcileEntityTypes(plan *UpdatePlan, existing *summary.ExistingModelSummary, updated *summary.UpdatedModelSummary, live *artifact.Artifact) {
	newTables := make(map[identity.DatabaseObject]bool, len(plan.NewTables))
	for _, obj := range plan.NewTables {
		newTables[obj] = true
	}
	existingNames := existing.EntityTypeNames()

	for _, name := range updated.EntityTypeNames() {
		uid := updated.EntityTypeIdentity(name)
		if match := findMatchingType(existing, live, existingNames, uid); match != "" {
			plan.MatchedEntityTypes = append(plan.MatchedEntityTypes, EntityTypeMatch{Existing: match, Updated: name})
			continue
		}

		allNew := len(uid.TablesAndViews()) > 0
		for _, obj := range uid.TablesAndViews() {
			if !newTables[obj] {
				allNew = false
				break
			}
		}
		if allNew {
			plan.NewEntityTypes = append(plan.NewEntityTypes, name)
		} else {
			u.Logger.Debugf("Entity type %s maps tables already mapped differently in the existing model", name)
			plan.UnmatchedEntityTypes = append(plan.UnmatchedEntityTypes, name)
		}
	}
}

// findMatchingType returns the existing type mapped to exactly the tables of
// uid. When a hierarchy shares those tables the root-most type wins.
func findMatchingType(existing *summary.ExistingModelSummary, live *artifact.Artifact, names []string, uid *identity.EntityTypeIdentity) string {
	var candidates []string
	for _, name := range names {
		if existing.EntityTypeIdentity(name).Equal(uid) {
			candidates = append(candidates, name)
		}
	}
	switch len(candidates) {
	case 0:
		return ""
	case 1:
		return candidates[0]
	}
	isCandidate := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		isCandidate[name] = true
	}
	for _, name := range candidates {
		base := live.BaseType(live.LookupEntityType(name))
		if base == nil || !isCandidate[live.EntityTypeName(base)] {
			return name
		}
	}
	return candidates[0]
}

// reconcileAssociations keeps generated associations the existing model
// already covers, and reports existing associations no generated association covers
func (u *Updater) reconcileAssociations(plan *UpdatePlan, existing *summary.ExistingModelSummary, updated *summary.UpdatedModelSummary) {
	existingAssocs := existing.AssociationSummary()
	updatedAssocs := updated.AssociationSummary()

	for _, name := range updatedAssocs.Names() {
		id, _ := updatedAssocs.Identity(name)
		if existingAssocs.Contains(id) {
			plan.KeptAssociations = append(plan.KeptAssociations, name)
		} else {
			plan.NewAssociations = append(plan.NewAssociations, name)
		}
	}
	for _, name := range existingAssocs.Names() {
		id, _ := existingAssocs.Identity(name)
		if !updatedAssocs.Contains(id) {
			u.Logger.Debugf("Association %s is no longer backed by the database: %s", name, id.TraceString())
			plan.StaleAssociations = append(plan.StaleAssociations, name)
		}
	}
}

func (u *Updater) reconcileFunctions(plan *UpdatePlan, existing *summary.ExistingModelSummary, updated *summary.UpdatedModelSummary) {
	for _, obj := range updated.AllFunctions() {
		if _, ok := existing.FunctionName(obj); !ok {
			plan.NewFunctions = append(plan.NewFunctions, obj)
		}
	}
	for _, obj := range existing.AllFunctions() {
		if _, ok := updated.FunctionName(obj); !ok {
			plan.DroppedFunctions = append(plan.DroppedFunctions, obj)
		}
	}
}

// diffNames returns the names only in after and the names only in before, sorted
func diffNames(before, after []string) ([]string, []string) {
	inBefore := make(map[string]bool, len(before))
	for _, n := range before {
		inBefore[n] = true
	}
	inAfter := make(map[string]bool, len(after))
	var added []string
	for _, n := range after {
		inAfter[n] = true
		if !inBefore[n] {
			added = append(added, n)
		}
	}
	var removed []string
	for _, n := range before {
		if !inAfter[n] {
			removed = append(removed, n)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
