package identity

// EntityTypeIdentity is the sorted set of tables and views an entity type is mapped to.
// Two identities are equal only when they hold exactly the same objects.
type EntityTypeIdentity struct {
	tablesAndViews *SortedList[DatabaseObject]
}

// NewEntityTypeIdentity creates an identity from tables and views
func NewEntityTypeIdentity(objs ...DatabaseObject) *EntityTypeIdentity {
	id := &EntityTypeIdentity{tablesAndViews: NewSortedList(CompareDatabaseObjects)}
	for _, obj := range objs {
		id.AddTableOrView(obj)
	}
	return id
}

// AddTableOrView adds obj unless it is already present
func (id *EntityTypeIdentity) AddTableOrView(obj DatabaseObject) {
	id.tablesAndViews.AddUnique(obj)
}

// TablesAndViews returns the tables and views in sorted order
func (id *EntityTypeIdentity) TablesAndViews() []DatabaseObject {
	return id.tablesAndViews.Items()
}

// Contains reports whether obj is part of the identity
func (id *EntityTypeIdentity) Contains(obj DatabaseObject) bool {
	return id.tablesAndViews.Contains(obj)
}

// Equal reports whether both identities hold the same tables and views
func (id *EntityTypeIdentity) Equal(other *EntityTypeIdentity) bool {
	if id == nil || other == nil {
		return id == other
	}
	return CompareListContents(id.tablesAndViews, other.tablesAndViews) == 0
}

// TraceString renders the identity for diagnostics
func (id *EntityTypeIdentity) TraceString() string {
	return "[EntityTypeIdentity " + formatList(id.tablesAndViews.items) + "]"
}
