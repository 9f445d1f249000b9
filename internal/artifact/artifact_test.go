package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/edmsync/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func fleetModel() *models.Model {
	return &models.Model{
		Version: models.VersionCurrent,
		Conceptual: models.ConceptualModel{
			Namespace: "Fleet",
			EntityTypes: []models.EntityType{
				{Name: "Vehicle", Key: []string{"Id"}, Properties: []models.Property{{Name: "Id", Type: "Int32"}}},
				{Name: "Car", BaseType: "Vehicle", Properties: []models.Property{{Name: "Wheels", Type: "Int32"}}},
				{Name: "Driver", Key: []string{"Id"}, Properties: []models.Property{{Name: "Id"}, {Name: "VehicleId"}}},
			},
			Associations: []models.Association{{
				Name: "VehicleDrivers",
				Ends: []models.AssociationEnd{
					{Role: "Vehicle", Type: "Fleet.Vehicle", Multiplicity: models.MultiplicityZero},
					{Role: "Driver", Type: "Driver", Multiplicity: models.MultiplicityMany},
				},
				ReferentialConstraint: &models.ReferentialConstraint{
					Principal: models.ConstraintRole{Role: "Vehicle", Properties: []string{"Id"}},
					Dependent: models.ConstraintRole{Role: "Driver", Properties: []string{"VehicleId"}},
				},
			}},
		},
		Storage: models.StorageModel{
			Namespace: "Fleet.Store",
			EntitySets: []models.StorageEntitySet{
				{Name: "vehicles", Schema: "fleet", Key: []string{"id"}, Columns: []models.StorageColumn{{Name: "id"}, {Name: "wheels"}}},
				{Name: "cars", Schema: "fleet", Key: []string{"id"}, Columns: []models.StorageColumn{{Name: "vehicle_id"}}},
				{Name: "drivers", Schema: "fleet", Key: []string{"id"}, Columns: []models.StorageColumn{{Name: "id"}, {Name: "vehicle_id", Nullable: true}}},
			},
		},
		Mapping: models.MappingModel{
			EntitySetMappings: []models.EntitySetMapping{
				{Name: "Vehicles", TypeMappings: []models.EntityTypeMapping{
					{TypeName: "Fleet.Vehicle", Fragments: []models.MappingFragment{{
						StoreEntitySet: "vehicles", ScalarProperties: []models.ScalarProperty{{Name: "Id", Column: "id"}},
					}}},
					{TypeName: "Fleet.Car", IsTypeOf: true, Fragments: []models.MappingFragment{
						{StoreEntitySet: "vehicles", ScalarProperties: []models.ScalarProperty{{Name: "Id", Column: "id"}, {Name: "Wheels", Column: "wheels"}}},
						{StoreEntitySet: "cars", ScalarProperties: []models.ScalarProperty{{Name: "Id", Column: "vehicle_id"}}},
					}},
				}},
				{Name: "Drivers", TypeMappings: []models.EntityTypeMapping{
					{TypeName: "Driver", Fragments: []models.MappingFragment{{
						StoreEntitySet: "drivers", ScalarProperties: []models.ScalarProperty{{Name: "Id", Column: "id"}, {Name: "VehicleId", Column: "vehicle_id"}},
					}}},
				}},
			},
			AssociationSetMappings: []models.AssociationSetMapping{{
				Name: "VehicleDrivers", Association: "VehicleDrivers", StoreEntitySet: "drivers",
				Ends: []models.EndProperty{
					{Role: "Vehicle", ScalarProperties: []models.ScalarProperty{{Name: "Id", Column: "vehicle_id"}}},
					{Role: "Driver", ScalarProperties: []models.ScalarProperty{{Name: "Id", Column: "id"}}},
				},
			}},
		},
	}
}

func TestNewIndexesModel(t *testing.T) {
	a, err := New("mem://fleet.yaml", fleetModel(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "Fleet.Car", a.NormalizedName("Car"))
	assert.Equal(t, "Fleet.Car", a.NormalizedName("Fleet.Car"))
	assert.True(t, a.ForeignKeysInModel())
	assert.NotZero(t, a.Fingerprint())

	car := a.LookupEntityType("Car")
	require.NotNil(t, car)
	assert.Same(t, car, a.LookupEntityType("Fleet.Car"))
	assert.Same(t, a.LookupEntityType("Vehicle"), a.BaseType(car))
	assert.Nil(t, a.BaseType(a.BaseType(car)))
	assert.Same(t, a.LookupEntityType("Vehicle"), a.DeclaringType(car, "Id"))
	assert.Same(t, car, a.DeclaringType(car, "Wheels"))
	assert.Nil(t, a.DeclaringType(car, "Missing"))
	assert.Len(t, a.EntityTypes(), 3)

	assoc := a.Association("VehicleDrivers")
	require.NotNil(t, assoc)
	assert.Equal(t, "Fleet.VehicleDrivers", a.AssociationName(assoc))
	assert.Same(t, a.LookupEntityType("Driver"), a.EndType(assoc, "Driver"))
	assert.Nil(t, a.EndType(assoc, "Nobody"))
	assert.Equal(t, "VehicleDrivers", a.AssociationSetMappingFor(assoc).Name)
	assert.Len(t, a.AssociationSetMappings(), 1)
	assert.Len(t, a.Associations(), 1)
	assert.Len(t, a.EntitySets(), 3)
	assert.Empty(t, a.Functions())
	assert.Equal(t, "drivers", a.StorageEntitySet("drivers").Name)
}

func TestMappedColumns(t *testing.T) {
	a, err := New("mem://fleet.yaml", fleetModel(), testLogger())
	require.NoError(t, err)

	// Id is declared on Vehicle, so the Car fragments add to the same columns
	refs := a.MappedColumns(a.LookupEntityType("Car"), "Id")
	require.Len(t, refs, 2)
	assert.Equal(t, "vehicles", refs[0].EntitySet.Name)
	assert.Equal(t, "id", refs[0].Column)
	assert.Equal(t, "cars", refs[1].EntitySet.Name)
	assert.Equal(t, "vehicle_id", refs[1].Column)
	assert.Equal(t, refs, a.MappedColumns(a.LookupEntityType("Vehicle"), "Id"))

	assert.Nil(t, a.MappedColumns(a.LookupEntityType("Car"), "Missing"))

	var pairs []string
	a.ForEachEntityTypeMapping(func(et *models.EntityType, set *models.StorageEntitySet) {
		pairs = append(pairs, et.Name+"->"+set.Name)
	})
	assert.Equal(t, []string{"Vehicle->vehicles", "Car->vehicles", "Car->cars", "Driver->drivers"}, pairs)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *models.Model)
		want   error
	}{
		{"duplicate entity type", func(m *models.Model) {
			m.Conceptual.EntityTypes = append(m.Conceptual.EntityTypes, models.EntityType{Name: "Fleet.Driver"})
		}, ErrInvalidModel},
		{"unknown base type", func(m *models.Model) {
			m.Conceptual.EntityTypes[1].BaseType = "Truck"
		}, ErrInvalidModel},
		{"cyclic base types", func(m *models.Model) {
			m.Conceptual.EntityTypes[0].BaseType = "Car"
		}, ErrInvalidModel},
		{"unknown end type", func(m *models.Model) {
			m.Conceptual.Associations[0].Ends[1].Type = "Fleet.Passenger"
		}, ErrInvalidModel},
		{"constraint arity", func(m *models.Model) {
			rc := m.Conceptual.Associations[0].ReferentialConstraint
			rc.Dependent.Properties = append(rc.Dependent.Properties, "Id")
		}, ErrConstraintArity},
		{"constraint property", func(m *models.Model) {
			m.Conceptual.Associations[0].ReferentialConstraint.Dependent.Properties = []string{"Plate"}
		}, ErrInvalidModel},
		{"constraint role", func(m *models.Model) {
			m.Conceptual.Associations[0].ReferentialConstraint.Principal.Role = "Owner"
		}, ErrInvalidModel},
		{"mapped type", func(m *models.Model) {
			m.Mapping.EntitySetMappings[1].TypeMappings[0].TypeName = "Fleet.Passenger"
		}, ErrInvalidModel},
		{"mapped set", func(m *models.Model) {
			m.Mapping.EntitySetMappings[1].TypeMappings[0].Fragments[0].StoreEntitySet = "passengers"
		}, ErrInvalidModel},
		{"mapped property", func(m *models.Model) {
			m.Mapping.EntitySetMappings[1].TypeMappings[0].Fragments[0].ScalarProperties[0].Name = "Plate"
		}, ErrInvalidModel},
		{"association set mapping association", func(m *models.Model) {
			m.Mapping.AssociationSetMappings[0].Association = "Ownership"
		}, ErrInvalidModel},
		{"association set mapping set", func(m *models.Model) {
			m.Mapping.AssociationSetMappings[0].StoreEntitySet = "owners"
		}, ErrInvalidModel},
		{"association set mapping role", func(m *models.Model) {
			m.Mapping.AssociationSetMappings[0].Ends[0].Role = "Owner"
		}, ErrInvalidModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fleetModel()
			tt.mutate(m)
			_, err := New("mem://invalid.yaml", m, testLogger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSaveLoadReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	uri := "file://" + path

	a, err := New(uri, fleetModel(), testLogger())
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, uri))

	loaded, err := Load(ctx, uri, testLogger())
	require.NoError(t, err)
	assert.Equal(t, a.Model, loaded.Model)
	assert.NotEqual(t, a.Generation(), loaded.Generation())

	car := loaded.LookupEntityType("Car")
	generation, fingerprint := loaded.Generation(), loaded.Fingerprint()
	require.NoError(t, loaded.Reload(ctx))
	assert.NotEqual(t, generation, loaded.Generation(), "every reload is a new generation")
	assert.Equal(t, fingerprint, loaded.Fingerprint())
	assert.NotSame(t, car, loaded.LookupEntityType("Car"), "reload replaces element pointers")

	// Changed content changes the fingerprint
	changed := fleetModel()
	changed.Conceptual.EntityTypes[2].Properties = append(changed.Conceptual.EntityTypes[2].Properties, models.Property{Name: "License"})
	other, err := New(uri, changed, testLogger())
	require.NoError(t, err)
	require.NoError(t, other.Save(ctx, uri))
	require.NoError(t, loaded.Reload(ctx))
	assert.NotEqual(t, fingerprint, loaded.Fingerprint())
	assert.NotNil(t, loaded.LookupEntityType("Driver").Property("License"))
}

func TestReloadKeepsModelOnError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	uri := "file://" + path

	a, err := New(uri, fleetModel(), testLogger())
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, uri))
	loaded, err := Load(ctx, uri, testLogger())
	require.NoError(t, err)
	generation := loaded.Generation()

	invalid := "version: 3\nconceptual:\n  namespace: Fleet\n  entityTypes:\n    - name: Car\n      baseType: Truck\n"
	require.NoError(t, os.WriteFile(path, []byte(invalid), 0o644))
	err = loaded.Reload(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidModel))
	assert.Equal(t, generation, loaded.Generation())
	assert.NotNil(t, loaded.LookupEntityType("Driver"), "the previous model stays in place")

	require.NoError(t, os.WriteFile(path, []byte("version: [unterminated"), 0o644))
	assert.Error(t, loaded.Reload(ctx))
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Load(ctx, "file://"+filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.Error(t, err)

	a, err := New("", fleetModel(), testLogger())
	require.NoError(t, err)
	assert.Error(t, a.Reload(ctx))
}

func TestLegacyModelsHaveNoForeignKeysInModel(t *testing.T) {
	m := fleetModel()
	m.Version = models.VersionLegacy
	a, err := New("mem://legacy.yaml", m, testLogger())
	require.NoError(t, err)
	assert.False(t, a.ForeignKeysInModel())
}
