package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock, Config{})
	require.NoError(t, err)
	return store, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestNewStoreWithPoolRejectsBadTableNames(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStoreWithPool(mock, Config{ContactTable: "contacts; drop table x"})
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewStoreWithPool(nil, Config{})
	require.Error(t, err)
}

func TestUpsertBusinessWithMapsURL(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rating := 4.8
	reviews := 120
	b := leads.Business{
		Name:               "Acme Law",
		Query:              "lawyers in austin",
		Address:            "1 Main St",
		Website:            "https://acme.example",
		MapsURL:            "https://maps.google.com/?cid=1",
		Rating:             &rating,
		ReviewCount:        &reviews,
		AdditionalMetadata: map[string]any{"category": "law"},
	}

	mock.ExpectExec("INSERT INTO businesses").
		WithArgs(b.Name, b.Query, b.Address, b.Phone, b.Website, b.MapsURL, b.Rating, b.ReviewCount,
			[]byte(`{"category":"law"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertBusinesses(context.Background(), []leads.Business{b}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBusinessWithoutMapsURLUpsertsOnNameAndQuery(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	b := leads.Business{Name: "Corner Cafe", Query: "cafes", Phone: "555-0100"}

	mock.ExpectExec(`(?s)INSERT INTO businesses .+ ON CONFLICT \(name, query\) WHERE google_maps_url IS NULL DO UPDATE`).
		WithArgs(b.Name, b.Query, b.Address, b.Phone, b.Website, b.Rating, b.ReviewCount, []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertBusinesses(context.Background(), []leads.Business{b}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBusinessWithoutMapsURLWrapsErrors(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO businesses").
		WithArgs(anyArgs(8)...).
		WillReturnError(errors.New("connection reset"))

	err := store.UpsertBusinesses(context.Background(), []leads.Business{{Name: "Corner Cafe", Query: "cafes"}})
	require.ErrorContains(t, err, "upsert business Corner Cafe")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBusinessRequiresName(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	err := store.UpsertBusinesses(context.Background(), []leads.Business{{Query: "cafes"}})
	require.ErrorContains(t, err, "name is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

var contactCols = []string{
	"id", "business_name", "person_name", "position", "emails", "phone_numbers", "social_links",
	"location", "notes", "source_url", "source_type", "snapshot_timestamp", "created_at", "updated_at",
}

func TestListContactsScansRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(contactCols).
		AddRow("c-1", "Acme", "Jane Doe", "Partner", []string{"jane@acme.example"}, []string{"555-0100"},
			[]string{}, "Austin", "", "https://acme.example/team", "internal", "", now, now).
		AddRow("c-2", "Acme", "Jane Doe", "Partner", []string{"jane@acme.example"}, []string{},
			[]string{}, "", "Sourced from 20200101000000", "https://web.archive.org/web/20200101000000/https://acme.example",
			"wayback", "20200101000000", now, now)
	mock.ExpectQuery("SELECT .+ FROM contacts WHERE business_name = \\$1").
		WithArgs("Acme").
		WillReturnRows(rows)

	got, err := store.ListContacts(context.Background(), "Acme")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c-1", got[0].ID)
	require.Equal(t, leads.SourceInternal, got[0].SourceKind)
	require.Equal(t, []string{"jane@acme.example"}, got[0].Emails)
	require.Equal(t, leads.SourceWayback, got[1].SourceKind)
	require.Equal(t, "20200101000000", got[1].SnapshotTimestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	key := leads.IdentityKey{BusinessName: "Acme", PersonName: "Jane Doe", SourceKind: leads.SourceInternal}
	mock.ExpectQuery("SELECT .+ FROM contacts").
		WithArgs("Acme", "Jane Doe", "", "internal", "").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetContact(context.Background(), key)
	require.ErrorIs(t, err, leads.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertContactReturnsIdentity(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	rec := leads.ContactRecord{
		BusinessName: "Acme",
		PersonName:   "Jane Doe",
		Emails:       []string{"jane@acme.example"},
		SourceURL:    "https://acme.example/team",
		SourceKind:   leads.SourceInternal,
	}
	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs("Acme", "Jane Doe", "", []string{"jane@acme.example"}, []string{}, []string{},
			"", "", "https://acme.example/team", "internal", "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("c-9", now, now))

	got, err := store.InsertContact(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "c-9", got.ID)
	require.Equal(t, now, got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertContactMapsUniqueViolation(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rec := leads.ContactRecord{
		BusinessName: "Acme",
		PersonName:   "Jane Doe",
		SourceURL:    "https://acme.example/team",
		SourceKind:   leads.SourceInternal,
	}
	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs("Acme", "Jane Doe", "", []string{}, []string{}, []string{},
			"", "", "https://acme.example/team", "internal", "").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "contacts_identity_key"})

	_, err := store.InsertContact(context.Background(), rec)
	require.ErrorIs(t, err, leads.ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertContactPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs(anyArgs(11)...).
		WillReturnError(errors.New("connection reset"))

	_, err := store.InsertContact(context.Background(), leads.ContactRecord{BusinessName: "Acme", PersonName: "X"})
	require.ErrorContains(t, err, "connection reset")
	require.NotErrorIs(t, err, leads.ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateContact(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rec := leads.ContactRecord{
		BusinessName: "Acme",
		PersonName:   "Jane Doe",
		Position:     "Partner",
		Emails:       []string{"jane@acme.example", "j.doe@acme.example"},
		Location:     "Austin",
		SourceURL:    "https://acme.example/team",
		SourceKind:   leads.SourceInternal,
	}
	mock.ExpectExec("UPDATE contacts SET").
		WithArgs("Acme", "Jane Doe", "Partner", "internal", "",
			[]string{"jane@acme.example", "j.doe@acme.example"}, []string{}, []string{},
			"Austin", "", "https://acme.example/team").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateContact(context.Background(), rec))

	mock.ExpectExec("UPDATE contacts SET").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := store.UpdateContact(context.Background(), rec)
	require.ErrorIs(t, err, leads.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@localhost:5432/leads", migrationURL("postgres://u:p@localhost:5432/leads"))
	require.Equal(t, "pgx5://u@db/leads", migrationURL("postgresql://u@db/leads"))
	require.Equal(t, "pgx5://already", migrationURL("pgx5://already"))

	d, err := ParseDirection("")
	require.NoError(t, err)
	require.Equal(t, Up, d)
	d, err = ParseDirection("DOWN")
	require.NoError(t, err)
	require.Equal(t, Down, d)
	_, err = ParseDirection("sideways")
	require.Error(t, err)

	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 4)
}
