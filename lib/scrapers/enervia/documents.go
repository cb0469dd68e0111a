package enervia

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"
)

// Document-type codes and literals embedded in fetch urls. The offer
// label is sent verbatim; the portal rejects the attestation call
// without it.
const (
	billDocumentCode        = "FACTURE"
	attestationDocumentCode = "CONTRAT"
	attestationOfferLabel   = "Tarif Horizon"
	scheduleDocumentCode    = "ECHEANCIER"
)

// BillsDocuments fetches the account-to-bills listing. The payload is
// returned opaque: its nesting is the vendor's and the harvesting
// layer walks it with path queries rather than a struct mirror.
func (c *Client) BillsDocuments(ctx context.Context) (gjson.Result, error) {
	return c.getListing(ctx, "BillsDocuments", "/services/rest/edoc/getBillsDocuments")
}

// AttestationsContract fetches the two-level account-to-contracts
// attestation listing.
func (c *Client) AttestationsContract(ctx context.Context) (gjson.Result, error) {
	return c.getListing(ctx, "AttestationsContract", "/services/rest/edoc/getAttestationsContract")
}

func (c *Client) getListing(ctx context.Context, op, path string) (gjson.Result, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		span.SetStatus(codes.Error, "listing fetch failed")
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "listing rejected")
		return gjson.Result{}, fmt.Errorf("%w: %s returned status %d", ErrVendorUnavailable, path, res.StatusCode())
	}
	body := res.Body()
	if !gjson.ValidBytes(body) {
		span.SetStatus(codes.Error, "listing is not json")
		return gjson.Result{}, fmt.Errorf("%w: %s answered with a non-json body", ErrMalformedResponse, path)
	}
	return gjson.ParseBytes(body), nil
}

// PaymentScheduleConsult fetches the payment-schedule consult payload.
func (c *Client) PaymentScheduleConsult(ctx context.Context) (gjson.Result, error) {
	ctx, span := tracer.Start(ctx, "PaymentScheduleConsult")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody("{}").
		Post("/services/rest/echeancier/consult")
	if err != nil {
		span.SetStatus(codes.Error, "schedule consult failed")
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "schedule consult rejected")
		return gjson.Result{}, fmt.Errorf("%w: schedule consult returned status %d", ErrVendorUnavailable, res.StatusCode())
	}
	body := res.Body()
	if !gjson.ValidBytes(body) {
		span.SetStatus(codes.Error, "schedule consult is not json")
		return gjson.Result{}, fmt.Errorf("%w: schedule consult answered with a non-json body", ErrMalformedResponse)
	}
	return gjson.ParseBytes(body), nil
}

// PaymentScheduleDocument resolves the schedule's document reference.
// One schedule has one shared pdf; the returned payload carries the
// encrypted reference used to build its fetch url.
func (c *Client) PaymentScheduleDocument(ctx context.Context, scheduleNumber string) (gjson.Result, error) {
	ctx, span := tracer.Start(ctx, "PaymentScheduleDocument")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"numEcheancier": scheduleNumber}).
		Post("/services/rest/echeancier/getDocument")
	if err != nil {
		span.SetStatus(codes.Error, "schedule document lookup failed")
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "schedule document lookup rejected")
		return gjson.Result{}, fmt.Errorf("%w: schedule document lookup returned status %d", ErrVendorUnavailable, res.StatusCode())
	}
	body := res.Body()
	if !gjson.ValidBytes(body) {
		span.SetStatus(codes.Error, "schedule document payload is not json")
		return gjson.Result{}, fmt.Errorf("%w: schedule document lookup answered with a non-json body", ErrMalformedResponse)
	}
	return gjson.ParseBytes(body), nil
}

// BillRef carries the identifiers a bill fetch url is built from: two
// per-document numeric ids and the enclosing account's two encrypted
// ids.
type BillRef struct {
	ParNumber      string
	DocumentNumber string
	AccountCrypt   string
	ClientCrypt    string
}

// BillURL builds a one-shot bill download url. The token must come
// from CSRFToken called immediately before; tokens are consumed on
// use.
func (c *Client) BillURL(token string, ref BillRef) string {
	u := *c.BaseUrl
	u.Path = "/services/rest/document/getDocumentGetXByData"
	q := url.Values{}
	q.Set("csrfToken", token)
	q.Set("dn", billDocumentCode)
	q.Set("pn", ref.ParNumber)
	q.Set("di", ref.DocumentNumber)
	q.Set("bn", ref.AccountCrypt)
	q.Set("an", ref.ClientCrypt)
	u.RawQuery = q.Encode()
	return u.String()
}

// AttestationRef carries the opaque identifiers an attestation fetch
// url is built from, plus the contract start date resolved from the
// cached contract details.
type AttestationRef struct {
	AccountCrypt    string
	BusinessPartner string
	ClientCrypt     string
	ContractCrypt   string
	StartDate       string
}

// AttestationURL builds a one-shot residence-attestation download url.
func (c *Client) AttestationURL(token string, ref AttestationRef) string {
	u := *c.BaseUrl
	u.Path = "/services/rest/document/getAttestationContratByData"
	q := url.Values{}
	q.Set("csrfToken", token)
	q.Set("dn", attestationDocumentCode)
	q.Set("ot", attestationOfferLabel)
	q.Set("aN", ref.AccountCrypt)
	q.Set("bp", ref.BusinessPartner)
	q.Set("cl", ref.ClientCrypt)
	q.Set("ct", ref.ContractCrypt)
	q.Set("ep", ref.StartDate)
	u.RawQuery = q.Encode()
	return u.String()
}

// ScheduleURL builds the download url for the single pdf a payment
// schedule shares across all of its deadline documents.
func (c *Client) ScheduleURL(token, documentCrypt string) string {
	u := *c.BaseUrl
	u.Path = "/services/rest/document/getDocumentGetXByData"
	q := url.Values{}
	q.Set("csrfToken", token)
	q.Set("dn", scheduleDocumentCode)
	q.Set("di", documentCrypt)
	u.RawQuery = q.Encode()
	return u.String()
}
