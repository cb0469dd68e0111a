package enervia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"
)

// Contract is one entry of the portal's contract enumeration. Raw keeps
// the full server record so later harvesting stages can read fields the
// enumeration layer does not model.
type Contract struct {
	Number    int64
	City      string
	StartDate string
	Raw       json.RawMessage
}

// Contracts enumerates the customer's contracts. Entries without a
// contract number are skipped with a warning since every harvested
// document must be keyed back to a number.
func (c *Client) Contracts(ctx context.Context) ([]Contract, error) {
	ctx, span := tracer.Start(ctx, "Contracts")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/services/rest/authenticate/getListContracts")
	if err != nil {
		span.SetStatus(codes.Error, "failed to list contracts")
		return nil, fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "contract listing rejected")
		return nil, fmt.Errorf("%w: contract listing returned status %d", ErrVendorUnavailable, res.StatusCode())
	}

	list := gjson.GetBytes(res.Body(), "customerAccordContracts")
	if !list.IsArray() {
		span.SetStatus(codes.Error, "contract listing has no contract array")
		return nil, fmt.Errorf("%w: no customerAccordContracts in payload", ErrMalformedResponse)
	}

	var contracts []Contract
	for _, item := range list.Array() {
		number := item.Get("number").Int()
		if number == 0 {
			slog.WarnContext(ctx, "skipping contract entry without a number")
			continue
		}
		contracts = append(contracts, Contract{
			Number: number,
			// "adress" is the vendor's spelling, not ours
			City:      item.Get("adress.city").String(),
			StartDate: item.Get("subscribeDate").String(),
			Raw:       json.RawMessage(item.Raw),
		})
	}
	return contracts, nil
}
