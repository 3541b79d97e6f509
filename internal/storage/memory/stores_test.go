package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadharvest/internal/clock/system"
	"github.com/JakeFAU/leadharvest/internal/leads"
)

func TestContactStoreEnforcesIdentityKey(t *testing.T) {
	t.Parallel()

	clock := system.Fixed{At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	store := NewContactStore(clock)
	ctx := context.Background()

	rec := leads.ContactRecord{
		BusinessName: "Acme",
		PersonName:   "Jane Doe",
		Emails:       []string{"jane@acme.example"},
		SourceURL:    "https://acme.example/team",
		SourceKind:   leads.SourceInternal,
	}
	stored, err := store.InsertContact(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)
	require.Equal(t, clock.At, stored.CreatedAt)

	_, err = store.InsertContact(ctx, rec)
	require.ErrorIs(t, err, leads.ErrDuplicateKey)

	archived := rec
	archived.SourceKind = leads.SourceWayback
	archived.SnapshotTimestamp = "20200101000000"
	_, err = store.InsertContact(ctx, archived)
	require.NoError(t, err)

	got, err := store.GetContact(ctx, rec.Key())
	require.NoError(t, err)
	got.Emails[0] = "mutated"

	again, err := store.GetContact(ctx, rec.Key())
	require.NoError(t, err)
	require.Equal(t, "jane@acme.example", again.Emails[0])

	list, err := store.ListContacts(ctx, "Acme")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, leads.SourceInternal, list[0].SourceKind)
	require.Equal(t, leads.SourceWayback, list[1].SourceKind)

	_, err = store.GetContact(ctx, leads.IdentityKey{BusinessName: "Acme", PersonName: "Nobody"})
	require.ErrorIs(t, err, leads.ErrNotFound)
}

func TestContactStoreUpdateKeepsIdentity(t *testing.T) {
	t.Parallel()

	store := NewContactStore(nil)
	ctx := context.Background()
	rec := leads.ContactRecord{BusinessName: "Acme", PersonName: "Jane", SourceKind: leads.SourceExternal}
	stored, err := store.InsertContact(ctx, rec)
	require.NoError(t, err)

	rec.Location = "Austin"
	require.NoError(t, store.UpdateContact(ctx, rec))
	got, err := store.GetContact(ctx, rec.Key())
	require.NoError(t, err)
	require.Equal(t, stored.ID, got.ID)
	require.Equal(t, "Austin", got.Location)

	missing := rec
	missing.PersonName = "Other"
	require.ErrorIs(t, store.UpdateContact(ctx, missing), leads.ErrNotFound)

	snapshot := store.Snapshot()
	require.Len(t, snapshot["Acme"], 1)
}

func TestBusinessStoreUpsertsByKey(t *testing.T) {
	t.Parallel()

	store := NewBusinessStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertBusinesses(ctx, []leads.Business{
		{Name: "Acme", Query: "law", MapsURL: "https://maps/1"},
		{Name: "Corner Cafe", Query: "cafes"},
	}))
	first := store.List()
	require.Len(t, first, 2)

	require.NoError(t, store.UpsertBusinesses(ctx, []leads.Business{
		{Name: "Acme Law LLP", Query: "law", MapsURL: "https://maps/1"},
		{Name: "Corner Cafe", Query: "cafes", Phone: "555-0100"},
		{Name: "Corner Cafe", Query: "coffee"},
	}))
	got := store.List()
	require.Len(t, got, 3)
	require.Equal(t, "Acme Law LLP", got[0].Name)
	require.Equal(t, first[0].ID, got[0].ID)
	require.Equal(t, "555-0100", got[1].Phone)

	require.Error(t, store.UpsertBusinesses(ctx, []leads.Business{{Query: "x"}}))
}

func TestHarvestStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewHarvestStore(system.Fixed{At: time.Unix(1700000000, 0)})
	ctx := context.Background()
	harvest := leads.Harvest{ID: "hv-1", Query: "lawyers", Status: leads.HarvestQueued}

	require.NoError(t, store.CreateHarvest(ctx, harvest))
	require.Error(t, store.CreateHarvest(ctx, harvest))

	require.NoError(t, store.UpdateHarvest(ctx, "hv-1", leads.HarvestRunning, "", leads.HarvestCounter{}))
	running, err := store.GetHarvest(ctx, "hv-1")
	require.NoError(t, err)
	require.NotNil(t, running.Started)
	require.Nil(t, running.Finished)

	_, err = store.GetResult(ctx, "hv-1")
	require.ErrorIs(t, err, leads.ErrNotFound)

	contacts := map[string][]leads.ContactRecord{
		"Acme": {{BusinessName: "Acme", PersonName: "Jane", Emails: []string{"jane@acme.example"}}},
	}
	require.NoError(t, store.SaveResult(ctx, "hv-1", contacts))
	contacts["Acme"][0].Emails[0] = "mutated"

	require.NoError(t, store.UpdateHarvest(ctx, "hv-1", leads.HarvestSucceeded, "", leads.HarvestCounter{Inserted: 1}))
	final, err := store.GetHarvest(ctx, "hv-1")
	require.NoError(t, err)
	require.Equal(t, leads.HarvestSucceeded, final.Status)
	require.NotNil(t, final.Finished)
	require.Equal(t, 1, final.Counters.Inserted)

	result, err := store.GetResult(ctx, "hv-1")
	require.NoError(t, err)
	require.Equal(t, "jane@acme.example", result["Acme"][0].Emails[0])

	require.ErrorIs(t, store.UpdateHarvest(ctx, "missing", leads.HarvestFailed, "x", leads.HarvestCounter{}), leads.ErrNotFound)
	require.ErrorIs(t, store.SaveResult(ctx, "missing", nil), leads.ErrNotFound)
}
