package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"

	"docharvest/lib/docstore"
	"docharvest/lib/scrapers/enervia"
	"docharvest/lib/timezone"
)

const vendorDateFormat = "2006-01-02"

// Bills harvests every account's bill documents. The budget's unit is
// one bill-bearing account: the unit count is fixed up front, each
// account gets an equal share of the time left when its turn comes,
// and the share travels down to the store as an advisory deadline.
func (h *Harvester) Bills(ctx context.Context, budget *Budget) (docstore.SaveResult, error) {
	ctx, span := tracer.Start(ctx, "Bills")
	defer span.End()

	var result docstore.SaveResult
	listing, err := h.client.BillsDocuments(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "bill listing failed")
		return result, err
	}
	accounts := listing.Get("accDTOs")
	if !accounts.IsArray() {
		slog.WarnContext(ctx, "bill listing has no accounts, skipping bills")
		return result, nil
	}

	units := 0
	for _, acc := range accounts.Array() {
		if len(acc.Get("bills").Array()) > 0 {
			units++
		}
	}
	budget.Reset(units)

	for _, acc := range accounts.Array() {
		bills := acc.Get("bills").Array()
		if len(bills) == 0 {
			continue
		}
		unitDeadline := budget.UnitDeadline()

		contractNumber := acc.Get("numContract").Int()
		folder, ok := h.folders[contractNumber]
		if !ok {
			slog.WarnContext(ctx, "no folder for contract, skipping account",
				"contract", contractNumber,
				"account", acc.Get("numAcc").String(),
			)
			budget.Consume()
			continue
		}

		docs := h.billDocuments(ctx, contractNumber, acc, bills)
		saved, err := h.store.SaveFiles(ctx, docs, folder, docstore.SaveOptions{
			SourceAccountIdentifier: h.opts.SourceAccountIdentifier,
			FileIdAttributes:        []string{"vendorRef"},
			LinkBankOperations:      true,
			Deadline:                unitDeadline,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to save account bills", "folder", folder, "err", err)
		}
		result.Saved += saved.Saved
		result.Skipped += saved.Skipped
		budget.Consume()
	}
	return result, nil
}

func (h *Harvester) billDocuments(ctx context.Context, contractNumber int64, acc gjson.Result, bills []gjson.Result) []docstore.Document {
	docs := make([]docstore.Document, 0, len(bills))
	for _, bill := range bills {
		date, err := time.ParseInLocation(vendorDateFormat, bill.Get("dateFacture").String(), timezone.Location)
		if err != nil {
			slog.WarnContext(ctx, "bill has an unreadable date, skipping",
				"contract", contractNumber,
				"date", bill.Get("dateFacture").String(),
			)
			continue
		}

		amount := bill.Get("montant").Float()
		isRefund := false
		if amount < 0 {
			amount = -amount
			isRefund = true
		}

		// tokens are consumed on use, one fresh token per bill
		token, err := h.client.CSRFToken(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to mint csrf token for bill, skipping", "err", err)
			continue
		}
		sourceURL := h.client.BillURL(token, enervia.BillRef{
			ParNumber:      bill.Get("parNumber").String(),
			DocumentNumber: bill.Get("documentNumber").String(),
			AccountCrypt:   acc.Get("numAccCrypt").String(),
			ClientCrypt:    acc.Get("numClientCrypt").String(),
		})

		a := amount
		docs = append(docs, docstore.Document{
			VendorRef:      bill.Get("documentNumber").String(),
			ContractNumber: contractNumber,
			Date:           date,
			Amount:         &a,
			Currency:       "EUR",
			IsRefund:       isRefund,
			Filename:       billFilename(date, amount, isRefund),
			SourceURL:      sourceURL,
			Metadata: map[string]string{
				"vendorRef": bill.Get("documentNumber").String(),
				"date":      date.Format(vendorDateFormat),
				"amount":    fmt.Sprintf("%.2f", amount),
			},
		})
	}
	return docs
}

func billFilename(date time.Time, amount float64, isRefund bool) string {
	name := fmt.Sprintf("%s_enervia_%.2fEUR", date.Format(vendorDateFormat), amount)
	if isRefund {
		name += "_remboursement"
	}
	return name + ".pdf"
}
