package docstore

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"

	"docharvest/lib/telemetry"

	_ "modernc.org/sqlite"
)

func setup(t *testing.T) (Store, *httptest.Server, *int) {
	cleanup := telemetry.SetupForTesting(t, "test:docstore")
	t.Cleanup(cleanup)

	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte("%PDF-1.4 fake bill"))
	}))
	t.Cleanup(server.Close)

	sqlite, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	_, err = sqlite.Exec(Schema)
	require.NoError(t, err)

	return NewStore(sqlite, resty.New()), server, &fetches
}

func billDoc(server *httptest.Server, ref string) Document {
	amount := 42.5
	return Document{
		VendorRef:      ref,
		ContractNumber: 123,
		Date:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:         &amount,
		Currency:       "EUR",
		Filename:       "2024-03-01_42.50EUR.pdf",
		SourceURL:      server.URL + "/doc/" + ref,
		Metadata: map[string]string{
			"vendorRef":      ref,
			"contractNumber": "123",
		},
	}
}

func TestSaveFilesDedup(t *testing.T) {
	store, server, fetches := setup(t)
	ctx := context.Background()

	opts := SaveOptions{
		SourceAccountIdentifier: "user@example.org",
		FileIdAttributes:        []string{"vendorRef", "contractNumber"},
	}

	res, err := store.SaveFiles(ctx, []Document{billDoc(server, "B-1")}, "Lyon", opts)
	require.NoError(t, err)
	require.Equal(t, SaveResult{Saved: 1}, res)
	require.Equal(t, 1, *fetches)

	// same identity key again: skipped, not refetched
	res, err = store.SaveFiles(ctx, []Document{billDoc(server, "B-1")}, "Lyon", opts)
	require.NoError(t, err)
	require.Equal(t, SaveResult{Skipped: 1}, res)
	require.Equal(t, 1, *fetches)

	// same key in another folder is a distinct document
	res, err = store.SaveFiles(ctx, []Document{billDoc(server, "B-1")}, "Paris", opts)
	require.NoError(t, err)
	require.Equal(t, SaveResult{Saved: 1}, res)
}

func TestSaveFilesReplace(t *testing.T) {
	store, server, fetches := setup(t)
	ctx := context.Background()
	opts := SaveOptions{FileIdAttributes: []string{"vendorRef"}}

	doc := billDoc(server, "ATT-1")
	doc.Replace = true

	for i := 0; i < 2; i++ {
		res, err := store.SaveFiles(ctx, []Document{doc}, "Lyon", opts)
		require.NoError(t, err)
		require.Equal(t, SaveResult{Saved: 1}, res)
	}
	require.Equal(t, 2, *fetches)
}

func TestSaveFilesExpiredDeadlineSkips(t *testing.T) {
	store, server, fetches := setup(t)
	ctx := context.Background()

	res, err := store.SaveFiles(ctx, []Document{billDoc(server, "B-2")}, "Lyon", SaveOptions{
		FileIdAttributes: []string{"vendorRef"},
		Deadline:         time.Now().Add(-time.Second),
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Saved)
	require.Equal(t, 0, *fetches)
}

func TestSessionRoundTrip(t *testing.T) {
	store, _, _ := setup(t)
	ctx := context.Background()

	loaded, err := store.LoadSession(ctx, "enervia")
	require.NoError(t, err)
	require.Nil(t, loaded)

	cookies := []*http.Cookie{
		{Name: "ssoToken", Value: "abc", Path: "/"},
		{Name: "locale", Value: "fr_FR", Path: "/"},
	}
	require.NoError(t, store.SaveSession(ctx, "enervia", cookies))

	loaded, err = store.LoadSession(ctx, "enervia")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "ssoToken", loaded[0].Name)
	require.Equal(t, "abc", loaded[0].Value)
}
