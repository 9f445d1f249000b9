package migrations

import (
	"fmt"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/pkg/models"
	"github.com/yourbasic/graph"
)

// Differ computes the operations that turn one storage model into another
type Differ struct {
	Logger *logrus.Logger
}

// NewDiffer creates a new model differ
func NewDiffer(logger *logrus.Logger) *Differ {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Differ{Logger: logger}
}

// storage is the table-level view of one model
type storage struct {
	names       map[string]identity.DatabaseObject
	tables      map[identity.DatabaseObject]*models.StorageEntitySet
	order       []identity.DatabaseObject
	foreignKeys []ForeignKey
}

func newStorage(m *models.Model, logger *logrus.Logger) *storage {
	byName := make(map[string]identity.DatabaseObject)
	s := &storage{names: byName, tables: make(map[identity.DatabaseObject]*models.StorageEntitySet)}
	for i := range m.Storage.EntitySets {
		set := &m.Storage.EntitySets[i]
		obj := identity.DatabaseObjectFromEntitySet(set)
		byName[set.Name] = obj
		if set.IsView() {
			continue
		}
		s.tables[obj] = set
		s.order = append(s.order, obj)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i].Compare(s.order[j]) < 0 })

	for _, fk := range m.Storage.ForeignKeys {
		dependent, okD := byName[fk.DependentSet]
		principal, okP := byName[fk.PrincipalSet]
		if !okD || !okP {
			logger.Warningf("Foreign key %s references an unknown entity set, ignoring it", fk.Name)
			continue
		}
		s.foreignKeys = append(s.foreignKeys, ForeignKey{
			Name:             fk.Name,
			Dependent:        dependent,
			DependentColumns: fk.DependentColumns,
			Principal:        principal,
			PrincipalColumns: fk.PrincipalColumns,
		})
	}
	sort.Slice(s.foreignKeys, func(i, j int) bool {
		if c := s.foreignKeys[i].Dependent.Compare(s.foreignKeys[j].Dependent); c != 0 {
			return c < 0
		}
		return s.foreignKeys[i].Name < s.foreignKeys[j].Name
	})
	return s
}

// Diff returns the operations that migrate source to target, in an order
// that can be executed: tables are renamed and moved first, foreign keys and
// keys are dropped before the tables and columns they depend on change, and
// re-added afterwards. Tables and columns are matched through the entity
// types mapped onto them, so a renamed table or column is renamed rather than
// dropped and recreated. Identical models produce no operations.
func (d *Differ) Diff(source, target *models.Model) ([]Operation, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("diff requires a source and a target model")
	}
	src := newStorage(source, d.Logger)
	dst := newStorage(target, d.Logger)
	pairs := pairTables(source, target, src, dst)

	var renames, moves, created, dropped, kept []identity.DatabaseObject
	for _, obj := range dst.order {
		prev, ok := pairs.backward[obj]
		if !ok {
			created = append(created, obj)
			continue
		}
		kept = append(kept, obj)
		if prev.Name != obj.Name {
			renames = append(renames, obj)
		}
		if prev.Schema != obj.Schema {
			moves = append(moves, obj)
		}
	}
	for _, obj := range src.order {
		if _, ok := pairs.forward[obj]; !ok {
			dropped = append(dropped, obj)
		}
	}

	var renamedColumns, adds, alters, drops []Operation
	touched := make(map[identity.DatabaseColumn]bool)
	for _, obj := range kept {
		before, after := src.tables[pairs.backward[obj]], dst.tables[obj]
		for _, col := range before.Columns {
			if name := pairs.column(obj, col.Name); name != col.Name {
				renamedColumns = append(renamedColumns, RenameColumn{Object: obj, Column: col.Name, NewName: name})
			}
		}
		for _, col := range after.Columns {
			prev := before.Column(pairs.previousColumn(obj, col.Name))
			switch {
			case prev == nil:
				adds = append(adds, AddColumn{Object: obj, Column: col})
			case prev.Type != col.Type || prev.Nullable != col.Nullable:
				previous := *prev
				previous.Name = col.Name
				alters = append(alters, AlterColumn{Object: obj, Column: col, Previous: previous})
				touched[identity.DatabaseColumn{Object: obj, Column: col.Name}] = true
			}
		}
		for _, col := range before.Columns {
			if after.Column(pairs.column(obj, col.Name)) == nil {
				drops = append(drops, DropColumn{Object: obj, Column: col.Name})
			}
		}
	}

	var keyChanged []identity.DatabaseObject
	previousKeys := make(map[identity.DatabaseObject][]string)
	rekeyed := make(map[identity.DatabaseObject]bool)
	for _, obj := range kept {
		var key []string
		for _, c := range src.tables[pairs.backward[obj]].Key {
			key = append(key, pairs.column(obj, c))
		}
		if !slices.Equal(key, dst.tables[obj].Key) {
			keyChanged = append(keyChanged, obj)
			previousKeys[obj] = key
			rekeyed[obj] = true
		}
	}

	sourceFKs := make([]ForeignKey, 0, len(src.foreignKeys))
	for _, fk := range src.foreignKeys {
		sourceFKs = append(sourceFKs, pairs.translate(fk))
	}
	removedFKs, addedFKs := diffForeignKeys(sourceFKs, dst.foreignKeys)
	// Foreign keys over altered columns or re-keyed principals are rebuilt
	for _, fk := range dst.foreignKeys {
		if !containsForeignKey(sourceFKs, fk) {
			continue
		}
		if rekeyed[fk.Principal] || touchesAny(touched, fk) {
			removedFKs = append(removedFKs, fk)
			addedFKs = append(addedFKs, fk)
		}
	}

	var ops []Operation
	for _, obj := range renames {
		prev := pairs.backward[obj]
		ops = append(ops, RenameTable{Object: prev, NewName: obj.Name})
	}
	for _, obj := range moves {
		prev := pairs.backward[obj]
		ops = append(ops, MoveTable{Object: identity.NewDatabaseObject(prev.Schema, obj.Name), NewSchema: obj.Schema})
	}
	for _, fk := range removedFKs {
		ops = append(ops, DropForeignKey{ForeignKey: fk})
	}
	ops = append(ops, renamedColumns...)
	for _, obj := range keyChanged {
		if key := previousKeys[obj]; len(key) > 0 {
			ops = append(ops, DropPrimaryKey{Object: obj, Columns: key})
		}
	}
	for _, obj := range dependencyOrder(created, dst.foreignKeys) {
		set := dst.tables[obj]
		ops = append(ops, CreateTable{
			Object:     obj,
			Columns:    append([]models.StorageColumn(nil), set.Columns...),
			PrimaryKey: append([]string(nil), set.Key...),
		})
	}
	ops = append(ops, adds...)
	ops = append(ops, alters...)
	for _, obj := range keyChanged {
		if key := dst.tables[obj].Key; len(key) > 0 {
			ops = append(ops, AddPrimaryKey{Object: obj, Columns: key})
		}
	}
	for _, fk := range addedFKs {
		ops = append(ops, AddForeignKey{ForeignKey: fk})
	}
	ops = append(ops, drops...)

	order := dependencyOrder(dropped, src.foreignKeys)
	for i := len(order) - 1; i >= 0; i-- {
		ops = append(ops, DropTable{Object: order[i]})
	}

	d.Logger.WithFields(logrus.Fields{
		"operations":      len(ops),
		"created_tables":  len(created),
		"dropped_tables":  len(dropped),
		"renamed_tables":  len(renames),
		"moved_tables":    len(moves),
		"renamed_columns": len(renamedColumns),
	}).Debug("Computed migration operations")
	return ops, nil
}

// diffForeignKeys returns the foreign keys only in source and only in target
func diffForeignKeys(source, target []ForeignKey) ([]ForeignKey, []ForeignKey) {
	inSource := make(map[string]bool, len(source))
	for _, fk := range source {
		inSource[fk.signature()] = true
	}
	inTarget := make(map[string]bool, len(target))
	var added []ForeignKey
	for _, fk := range target {
		inTarget[fk.signature()] = true
		if !inSource[fk.signature()] {
			added = append(added, fk)
		}
	}
	var removed []ForeignKey
	for _, fk := range source {
		if !inTarget[fk.signature()] {
			removed = append(removed, fk)
		}
	}
	return removed, added
}

func containsForeignKey(fks []ForeignKey, fk ForeignKey) bool {
	for _, other := range fks {
		if other.signature() == fk.signature() {
			return true
		}
	}
	return false
}

func touchesAny(touched map[identity.DatabaseColumn]bool, fk ForeignKey) bool {
	for _, c := range fk.DependentColumns {
		if touched[identity.DatabaseColumn{Object: fk.Dependent, Column: c}] {
			return true
		}
	}
	for _, c := range fk.PrincipalColumns {
		if touched[identity.DatabaseColumn{Object: fk.Principal, Column: c}] {
			return true
		}
	}
	return false
}

// dependencyOrder sorts tables so that every principal comes before its
// dependents. Cycles fall back to name order.
func dependencyOrder(tables []identity.DatabaseObject, fks []ForeignKey) []identity.DatabaseObject {
	if len(tables) < 2 {
		return tables
	}
	index := make(map[identity.DatabaseObject]int, len(tables))
	for i, obj := range tables {
		index[obj] = i
	}
	g := graph.New(len(tables))
	for _, fk := range fks {
		p, okP := index[fk.Principal]
		d, okD := index[fk.Dependent]
		if okP && okD && p != d {
			g.Add(p, d)
		}
	}
	order, ok := graph.TopSort(g)
	if !ok {
		return tables
	}
	out := make([]identity.DatabaseObject, 0, len(order))
	for _, v := range order {
		out = append(out, tables[v])
	}
	return out
}
