package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"docharvest/lib/docstore"
	"docharvest/lib/scrapers/enervia"
	"docharvest/lib/timezone"
)

var tracer = otel.Tracer("services/harvest")

// Store is the persistence collaborator documents are handed to.
type Store interface {
	SaveFiles(ctx context.Context, docs []docstore.Document, folder string, opts docstore.SaveOptions) (docstore.SaveResult, error)
}

// FolderIndex maps a contract number to its destination folder label.
// Built once from the contract enumeration and read-only afterwards; a
// miss means the document is skipped with a warning, never a failure,
// since the enumeration itself may have been incomplete.
type FolderIndex map[int64]string

type Options struct {
	SourceAccountIdentifier string
	// wall-clock allowance for the bill harvest, defaults to 5m
	TimeLimit time.Duration
}

// Harvester walks contracts to document categories to documents,
// building fetch descriptors and handing them to the store. All calls
// are sequential: every fetch url embeds a just-minted csrf token and
// the portal session is shared mutable state.
type Harvester struct {
	client    *enervia.Client
	store     Store
	opts      Options
	contracts map[int64]enervia.Contract
	folders   FolderIndex
}

func New(client *enervia.Client, store Store, opts Options) *Harvester {
	if opts.TimeLimit == 0 {
		opts.TimeLimit = time.Minute * 5
	}
	return &Harvester{
		client: client,
		store:  store,
		opts:   opts,
	}
}

// Prepare enumerates the contracts and derives the folder index every
// harvesting routine resolves against.
func (h *Harvester) Prepare(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Prepare")
	defer span.End()

	contracts, err := h.client.Contracts(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "contract enumeration failed")
		return err
	}

	h.contracts = make(map[int64]enervia.Contract, len(contracts))
	h.folders = make(FolderIndex, len(contracts))
	for _, contract := range contracts {
		h.contracts[contract.Number] = contract
		h.folders[contract.Number] = folderLabel(contract)
	}
	slog.InfoContext(ctx, "contracts enumerated", "count", len(contracts))
	return nil
}

func folderLabel(contract enervia.Contract) string {
	if contract.City == "" {
		return fmt.Sprintf("%d", contract.Number)
	}
	return fmt.Sprintf("%d - %s", contract.Number, contract.City)
}

// Summary is what one full run produced, per category.
type Summary struct {
	Contracts    int
	Bills        docstore.SaveResult
	Schedule     docstore.SaveResult
	Attestations docstore.SaveResult
}

// Run executes all three harvesting routines. A failing category is
// logged and skipped; only the contract enumeration is fatal since
// every routine depends on the folder index.
func (h *Harvester) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	var summary Summary
	err := h.Prepare(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "prepare failed")
		return summary, err
	}
	summary.Contracts = len(h.contracts)

	budget := NewBudget(timezone.Now().Add(h.opts.TimeLimit), 0)
	summary.Bills, err = h.Bills(ctx, budget)
	if err != nil {
		slog.WarnContext(ctx, "bill harvest failed", "err", err)
	}

	summary.Schedule, err = h.Schedule(ctx)
	if err != nil {
		slog.WarnContext(ctx, "payment schedule harvest failed", "err", err)
	}

	summary.Attestations, err = h.Attestations(ctx)
	if err != nil {
		slog.WarnContext(ctx, "attestation harvest failed", "err", err)
	}

	return summary, nil
}
