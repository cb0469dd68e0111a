package harvest

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"docharvest/lib/docstore"
	"docharvest/lib/scrapers/enervia"
	"docharvest/lib/timezone"
)

// Attestations harvests one residence attestation per contract. The
// portal regenerates the certificate on every fetch, so these always
// replace the previously stored file instead of deduplicating.
func (h *Harvester) Attestations(ctx context.Context) (docstore.SaveResult, error) {
	ctx, span := tracer.Start(ctx, "Attestations")
	defer span.End()

	var result docstore.SaveResult
	listing, err := h.client.AttestationsContract(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "attestation listing failed")
		return result, err
	}
	accounts := listing.Get("accAttestations")
	if !accounts.IsArray() {
		slog.WarnContext(ctx, "attestation listing has no accounts, skipping")
		return result, nil
	}

	for _, acc := range accounts.Array() {
		for _, ct := range acc.Get("contracts").Array() {
			number := ct.Get("number").Int()
			folder, ok := h.folders[number]
			if !ok {
				slog.WarnContext(ctx, "no folder for attestation contract, skipping", "contract", number)
				continue
			}
			contract, ok := h.contracts[number]
			if !ok || contract.StartDate == "" {
				slog.WarnContext(ctx, "no cached details for attestation contract, skipping", "contract", number)
				continue
			}

			token, err := h.client.CSRFToken(ctx)
			if err != nil {
				slog.WarnContext(ctx, "failed to mint csrf token for attestation, skipping",
					"contract", number,
					"err", err,
				)
				continue
			}
			sourceURL := h.client.AttestationURL(token, enervia.AttestationRef{
				AccountCrypt:    acc.Get("numAccCrypt").String(),
				BusinessPartner: acc.Get("numBpCrypt").String(),
				ClientCrypt:     acc.Get("numClientCrypt").String(),
				ContractCrypt:   ct.Get("numContractCrypt").String(),
				StartDate:       contract.StartDate,
			})

			saved, err := h.store.SaveFiles(ctx, []docstore.Document{{
				VendorRef:      fmt.Sprintf("attestation-%d", number),
				ContractNumber: number,
				Date:           timezone.Now(),
				Replace:        true,
				Filename:       fmt.Sprintf("enervia_attestation_%d.pdf", number),
				SourceURL:      sourceURL,
				Metadata: map[string]string{
					"vendorRef": fmt.Sprintf("attestation-%d", number),
				},
			}}, folder, docstore.SaveOptions{
				SourceAccountIdentifier: h.opts.SourceAccountIdentifier,
				FileIdAttributes:        []string{"vendorRef"},
			})
			if err != nil {
				slog.WarnContext(ctx, "failed to save attestation", "contract", number, "err", err)
				continue
			}
			result.Saved += saved.Saved
			result.Skipped += saved.Skipped
		}
	}
	return result, nil
}
