package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"docharvest/lib/docstore"
	"docharvest/lib/scrapers/enervia"
	"docharvest/lib/timezone"
)

// Schedule harvests the monthly payment schedule: one synthetic bill
// per completed deadline, all pointing at the schedule's single pdf.
// A missing or non-monthly schedule is a logged no-op, never an error.
//
// Known limitation: the portal is assumed to carry exactly one active
// schedule. Multiple concurrent schedules would all resolve to the
// first one's document.
func (h *Harvester) Schedule(ctx context.Context) (docstore.SaveResult, error) {
	ctx, span := tracer.Start(ctx, "Schedule")
	defer span.End()

	var result docstore.SaveResult
	consult, err := h.client.PaymentScheduleConsult(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "schedule consult failed")
		return result, err
	}

	sub := consult.Get("feSouscriptionResponse")
	if !sub.Exists() {
		slog.WarnContext(ctx, "schedule payload has no subscription response, skipping")
		return result, nil
	}
	if sub.Get("modePaiement").String() != "mensuel" {
		slog.DebugContext(ctx, "payment mode is not monthly, no schedule documents",
			"mode", sub.Get("modePaiement").String(),
		)
		return result, nil
	}

	contractNumber := sub.Get("numContract").Int()
	folder, ok := h.folders[contractNumber]
	if !ok {
		slog.WarnContext(ctx, "no folder for schedule contract, skipping", "contract", contractNumber)
		return result, nil
	}

	var completed []struct {
		date   time.Time
		amount float64
	}
	for _, deadline := range sub.Get("echeances").Array() {
		if deadline.Get("etat").String() != "EFFECTUE" {
			continue
		}
		date, err := time.ParseInLocation(vendorDateFormat, deadline.Get("dateEcheance").String(), timezone.Location)
		if err != nil {
			slog.WarnContext(ctx, "schedule deadline has an unreadable date, skipping",
				"date", deadline.Get("dateEcheance").String(),
			)
			continue
		}
		completed = append(completed, struct {
			date   time.Time
			amount float64
		}{
			date:   date,
			amount: deadline.Get("montantElec").Float() + deadline.Get("montantGaz").Float(),
		})
	}
	if len(completed) == 0 {
		slog.WarnContext(ctx, "schedule has no completed deadlines, skipping")
		return result, nil
	}

	scheduleNumber := sub.Get("numEcheancier").String()
	docRef, err := h.client.PaymentScheduleDocument(ctx, scheduleNumber)
	if err != nil {
		span.SetStatus(codes.Error, "schedule document lookup failed")
		return result, err
	}
	documentCrypt := docRef.Get("documentCrypt").String()
	if documentCrypt == "" {
		span.SetStatus(codes.Error, "schedule pdf reference missing")
		return result, fmt.Errorf("%w: schedule pdf reference missing", enervia.ErrDocumentUnavailable)
	}
	token, err := h.client.CSRFToken(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to mint csrf token for schedule")
		return result, err
	}
	sourceURL := h.client.ScheduleURL(token, documentCrypt)

	docs := make([]docstore.Document, 0, len(completed))
	for _, deadline := range completed {
		amount := deadline.amount
		docs = append(docs, docstore.Document{
			VendorRef:      fmt.Sprintf("echeancier-%s-%s", scheduleNumber, deadline.date.Format(vendorDateFormat)),
			ContractNumber: contractNumber,
			Date:           deadline.date,
			Amount:         &amount,
			Currency:       "EUR",
			Filename:       fmt.Sprintf("%s_enervia_echeancier_%.2fEUR.pdf", deadline.date.Format(vendorDateFormat), amount),
			SourceURL:      sourceURL,
			Metadata: map[string]string{
				"vendorRef": fmt.Sprintf("echeancier-%s-%s", scheduleNumber, deadline.date.Format(vendorDateFormat)),
				"date":      deadline.date.Format(vendorDateFormat),
				"amount":    fmt.Sprintf("%.2f", amount),
			},
		})
	}

	return h.store.SaveFiles(ctx, docs, folder, docstore.SaveOptions{
		SourceAccountIdentifier: h.opts.SourceAccountIdentifier,
		FileIdAttributes:        []string{"vendorRef"},
		LinkBankOperations:      true,
	})
}
