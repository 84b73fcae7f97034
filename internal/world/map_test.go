package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallWorld(t *testing.T) *Map {
	t.Helper()
	m, err := Generate(SmallTestConfig(), defaultRegistry(t))
	require.NoError(t, err)
	return m
}

func TestEntriesAreOrdered(t *testing.T) {
	entries := smallWorld(t).Entries()
	for i := 1; i < len(entries); i++ {
		assert.True(t, lessCoord(entries[i-1].Coordinates, entries[i].Coordinates))
	}
}

func TestReadsReturnCopies(t *testing.T) {
	m := smallWorld(t)
	c := HexCoord{Q: 0, R: 0}
	terr, ok := m.Get(c)
	require.True(t, ok)
	terr.Biome.Resources[ResourceFood] = -100
	terr.SetOwner("nation-x")

	again, _ := m.Get(c)
	assert.NotEqual(t, -100, again.Biome.Resources[ResourceFood])
	assert.NotEqual(t, "nation-x", again.ClaimedBy)
}

func TestTxnCommitPublishesAtomically(t *testing.T) {
	m := smallWorld(t)
	a, b := HexCoord{Q: 0, R: 0}, HexCoord{Q: 1, R: 1}
	before, _ := m.Get(a)

	tx := m.Begin()
	ta, err := tx.Modify(a)
	require.NoError(t, err)
	ta.SetOwner("n1")
	tb, err := tx.Modify(b)
	require.NoError(t, err)
	tb.SetOwner("n1")

	// Readers keep seeing the pre-transaction state.
	mid, _ := m.Get(a)
	assert.Equal(t, before.ClaimedBy, mid.ClaimedBy)

	tx.Commit()
	after, _ := m.Get(a)
	assert.Equal(t, "n1", after.ClaimedBy)
	afterB, _ := m.ByID(b.String())
	assert.Equal(t, "n1", afterB.ClaimedBy)
}

func TestTxnRollbackToSavepoint(t *testing.T) {
	m := smallWorld(t)
	a, b := HexCoord{Q: 0, R: 0}, HexCoord{Q: 1, R: 1}

	tx := m.Begin()
	ta, err := tx.Modify(a)
	require.NoError(t, err)
	ta.SetOwner("kept")

	sp := tx.Savepoint()
	ta, err = tx.Modify(a)
	require.NoError(t, err)
	ta.SetOwner("discarded")
	tb, err := tx.Modify(b)
	require.NoError(t, err)
	tb.SetOwner("discarded")
	tx.RollbackTo(sp)

	ra, _ := tx.Read(a)
	assert.Equal(t, "kept", ra.ClaimedBy)
	tx.Commit()

	ga, _ := m.Get(a)
	assert.Equal(t, "kept", ga.ClaimedBy)
	gb, _ := m.Get(b)
	assert.NotEqual(t, "discarded", gb.ClaimedBy)
}

func TestTxnRollbackDiscardsEverything(t *testing.T) {
	m := smallWorld(t)
	c := HexCoord{Q: 2, R: 2}
	tx := m.Begin()
	terr, err := tx.Modify(c)
	require.NoError(t, err)
	terr.SetOwner("gone")
	tx.Rollback()

	got, _ := m.Get(c)
	assert.NotEqual(t, "gone", got.ClaimedBy)

	// The writer lock is released.
	m.Begin().Rollback()
}

func TestModifyUnknownCoordinate(t *testing.T) {
	tx := smallWorld(t).Begin()
	defer tx.Rollback()
	_, err := tx.Modify(HexCoord{Q: 100, R: 100})
	assert.Error(t, err)
}

func TestRecordsRoundTrip(t *testing.T) {
	m := smallWorld(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tx := m.Begin()
	terr, err := tx.Modify(HexCoord{Q: 1, R: 2})
	require.NoError(t, err)
	terr.ClearOwner()
	terr.Claims = append(terr.Claims,
		TerritoryClaim{ID: "c1", TerritoryID: terr.ID, ClaimantNationID: "n1", CreatedAt: now, UpdatedAt: now, Status: ClaimSuccess},
		TerritoryClaim{ID: "c2", TerritoryID: terr.ID, ClaimantNationID: "n2", CreatedAt: now, UpdatedAt: now, Status: ClaimWithdrawn},
	)
	terr.RecordClaimHistory(now)
	terr.SetOwner("n1")
	require.NoError(t, terr.AddBuildingCapacity(1))
	tx.Commit()

	set := Flatten(m, "instance-1")
	assert.Len(t, set.Territories, m.Len())
	assert.Len(t, set.Claims, 2)

	back, err := FromRecords(set)
	require.NoError(t, err)
	assert.Equal(t, m.Entries(), back.Entries())
	assert.Equal(t, m.Width, back.Width)
}

func TestFromRecordsRejectsOrphanRows(t *testing.T) {
	_, err := FromRecords(RecordSet{Resources: []ResourceRecord{{TerritoryID: "nope", Resource: ResourceFood, Amount: 1}}})
	assert.Error(t, err)
}

func TestTerritoryValidate(t *testing.T) {
	terr := &Territory{ID: "x", MaxBuildingCapacity: 2, CurrentBuildingCapacity: 3}
	assert.Error(t, terr.Validate())

	terr = &Territory{ID: "x", MaxBuildingCapacity: 2, Claimed: true}
	assert.Error(t, terr.Validate())

	terr = &Territory{ID: "x", MaxBuildingCapacity: 2}
	assert.NoError(t, terr.Validate())
	assert.Error(t, terr.AddBuildingCapacity(3))
	assert.Error(t, terr.AddBuildingCapacity(0))
	assert.NoError(t, terr.AddBuildingCapacity(2))
}
