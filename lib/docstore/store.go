package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "embed"

	"github.com/go-resty/resty/v2"

	"docharvest/lib/timezone"
)

//go:embed schema.sql
var Schema string

// Document is one harvested file to persist: where it comes from, what
// to call it, and the metadata the dedup key is derived from. Built
// once by the harvester and consumed exactly once by SaveFiles.
type Document struct {
	VendorRef      string
	ContractNumber int64
	Date           time.Time
	// nil for documents without an amount (attestations)
	Amount   *float64
	Currency string
	IsRefund bool
	// Replace forces an overwrite of a previously stored file with the
	// same identity key instead of skipping it
	Replace  bool
	Filename string
	// SourceURL embeds a csrf token and is only valid right after it
	// was built
	SourceURL string
	Metadata  map[string]string
}

type SaveOptions struct {
	SourceAccountIdentifier string
	// metadata field names whose values form the dedup identity key
	FileIdAttributes   []string
	LinkBankOperations bool
	// advisory absolute deadline for this batch; zero means none
	Deadline time.Time
}

// Store persists harvested documents in sqlite, deduplicating by the
// identity key callers derive documents with. Downloads go through the
// portal session client so document urls resolve with live cookies.
type Store struct {
	db   *sql.DB
	http *resty.Client
}

func NewStore(database *sql.DB, client *resty.Client) Store {
	return Store{
		db:   database,
		http: client,
	}
}

func identityKey(doc Document, attrs []string) string {
	if len(attrs) == 0 {
		return doc.VendorRef
	}
	parts := make([]string, len(attrs))
	for i, attr := range attrs {
		parts[i] = doc.Metadata[attr]
	}
	return strings.Join(parts, "/")
}

type SaveResult struct {
	Saved   int
	Skipped int
}

// SaveFiles stores every document of the batch under `folder`. Existing
// documents with the same identity key are skipped unless the document
// asks to be replaced. A single broken document never fails the batch.
func (s Store) SaveFiles(ctx context.Context, docs []Document, folder string, opts SaveOptions) (SaveResult, error) {
	// the deadline is advisory and only bounds the downloads; bookkeeping
	// queries still run so the batch accounts for what it skipped
	fetchCtx := ctx
	if !opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithDeadline(ctx, opts.Deadline)
		defer cancel()
	}

	var result SaveResult
	for _, doc := range docs {
		key := identityKey(doc, opts.FileIdAttributes)

		var existing int64
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM documents WHERE folder = ? AND identity_key = ?`,
			folder, key,
		).Scan(&existing)
		if err != nil {
			return result, err
		}
		if existing > 0 && !doc.Replace {
			slog.DebugContext(ctx, "document already stored", "folder", folder, "key", key)
			result.Skipped++
			continue
		}

		content, err := s.fetch(fetchCtx, doc.SourceURL)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch document",
				"folder", folder,
				"file", doc.Filename,
				"err", err,
			)
			result.Skipped++
			continue
		}

		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return result, err
		}
		var amount any
		if doc.Amount != nil {
			amount = *doc.Amount
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (
				folder, identity_key, vendor_ref, contract_number, filename,
				date, amount, currency, is_refund, link_bank_operations,
				source_account, metadata, content, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (folder, identity_key) DO UPDATE SET
				vendor_ref = excluded.vendor_ref,
				filename = excluded.filename,
				date = excluded.date,
				amount = excluded.amount,
				currency = excluded.currency,
				is_refund = excluded.is_refund,
				metadata = excluded.metadata,
				content = excluded.content,
				fetched_at = excluded.fetched_at`,
			folder, key, doc.VendorRef, doc.ContractNumber, doc.Filename,
			doc.Date.Unix(), amount, doc.Currency, doc.IsRefund, opts.LinkBankOperations,
			opts.SourceAccountIdentifier, string(metadata), content, timezone.Now().Unix(),
		)
		if err != nil {
			return result, err
		}
		result.Saved++
	}
	return result, nil
}

func (s Store) fetch(ctx context.Context, sourceUrl string) ([]byte, error) {
	res, err := s.http.R().
		SetContext(ctx).
		Get(sourceUrl)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("document fetch returned status %d", res.StatusCode())
	}
	return res.Body(), nil
}

// SaveSession persists the portal cookie set so the next run can try
// to reuse the session instead of logging in again.
func (s Store) SaveSession(ctx context.Context, name string, cookies []*http.Cookie) error {
	encoded, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (name, cookies, saved_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			cookies = excluded.cookies,
			saved_at = excluded.saved_at`,
		name, string(encoded), timezone.Now().Unix(),
	)
	return err
}

// LoadSession returns the cookie set of a previous run, or nil if none
// was saved.
func (s Store) LoadSession(ctx context.Context, name string) ([]*http.Cookie, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT cookies FROM sessions WHERE name = ?`, name,
	).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cookies []*http.Cookie
	err = json.Unmarshal([]byte(encoded), &cookies)
	if err != nil {
		return nil, err
	}
	return cookies, nil
}
