package renderer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"serenity/internal/contracts/browserless"
	apperrors "serenity/internal/pkg/errors"
)

// Type selects the provider operation.
type Type string

const (
	TypeScreenshot Type = "screenshot"
	TypePDF        Type = "pdf"
	TypeContent    Type = "content"
	TypeScrape     Type = "scrape"
)

// Valid reports whether t is a supported operation.
func (t Type) Valid() bool {
	switch t {
	case TypeScreenshot, TypePDF, TypeContent, TypeScrape:
		return true
	}
	return false
}

// OrDefault returns t, or TypeScreenshot when t is empty.
func (t Type) OrDefault() Type {
	if t == "" {
		return TypeScreenshot
	}
	return t
}

// Endpoint returns the provider path for t.
func (t Type) Endpoint() browserless.Endpoint {
	switch t {
	case TypePDF:
		return browserless.EndpointPDF
	case TypeContent:
		return browserless.EndpointContent
	case TypeScrape:
		return browserless.EndpointScrape
	default:
		return browserless.EndpointScreenshot
	}
}

// Request is an inbound render request. Options stay raw until the type is
// known so that options belonging to other types are never inspected.
type Request struct {
	URL     string          `json:"url"`
	Type    Type            `json:"type,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`

	// badType holds a "type" value that is present but not a non-empty
	// string (null, "", numbers, objects). Such requests fail the type
	// check instead of falling back to screenshot.
	badType json.RawMessage
}

// UnmarshalJSON defaults the type to screenshot only when the "type" key
// is absent.
func (r *Request) UnmarshalJSON(b []byte) error {
	type plain Request
	var aux struct {
		plain
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = Request(aux.plain)
	r.Type, r.badType = "", nil

	raw := bytes.TrimSpace(aux.Type)
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		r.Type = Type(s)
		return nil
	}
	r.badType = append(json.RawMessage(nil), raw...)
	return nil
}

// Kind returns the operation the request asks for, or "" when the type
// is not a supported one.
func (r Request) Kind() Type {
	if len(r.badType) > 0 {
		return ""
	}
	if t := r.Type.OrDefault(); t.Valid() {
		return t
	}
	return ""
}

// DefaultElements are scraped when the request names none.
var DefaultElements = []browserless.Element{
	{Selector: "h1"},
	{Selector: "p"},
	{Selector: "a"},
}

const (
	msgURLRequired  = "URL is required"
	msgKeyMissing   = "Browserless API key not configured"
	msgInvalidType  = "Invalid type. Supported: screenshot, pdf, content, scrape"
	msgOptionsShape = "options must be an object"
)

// call is a validated provider call.
type call struct {
	typ      Type
	endpoint browserless.Endpoint
	body     any
	// scrape aliases body for scrape calls so the retry can adjust it.
	scrape *browserless.ScrapeBody
}

// buildCall validates req against the provider contract and builds the body
// to send. Checks run in a fixed order and the first failure wins.
func buildCall(req Request, apiKey string) (*call, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, apperrors.Validation(msgURLRequired)
	}
	if apiKey == "" {
		return nil, apperrors.Config(msgKeyMissing)
	}
	typ := req.Kind()
	if typ == "" {
		got := string(req.Type)
		if len(req.badType) > 0 {
			got = string(req.badType)
		}
		return nil, apperrors.Validation(msgInvalidType).WithField("type", got)
	}

	opts, err := splitOptions(req.Options)
	if err != nil {
		return nil, err
	}

	c := &call{typ: typ, endpoint: typ.Endpoint()}
	switch typ {
	case TypeScreenshot:
		var o browserless.ScreenshotOptions
		if err := decodeOption(opts, "screenshot", &o); err != nil {
			return nil, err
		}
		if err := o.Validate(); err != nil {
			return nil, apperrors.ValidationField("options.screenshot", err.Error())
		}
		c.body = browserless.ScreenshotBody{URL: req.URL, Options: o}
	case TypePDF:
		var o browserless.PDFOptions
		if err := decodeOption(opts, "pdf", &o); err != nil {
			return nil, err
		}
		if err := o.Validate(); err != nil {
			return nil, apperrors.ValidationField("options.pdf", err.Error())
		}
		c.body = browserless.PDFBody{URL: req.URL, Options: o}
	case TypeContent:
		c.body = browserless.ContentBody{URL: req.URL}
	case TypeScrape:
		body, err := buildScrape(req.URL, opts)
		if err != nil {
			return nil, err
		}
		c.scrape = body
		c.body = body
	}
	return c, nil
}

func splitOptions(raw json.RawMessage) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]json.RawMessage{}, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperrors.ValidationField("options", msgOptionsShape)
	}
	return m, nil
}

// decodeOption decodes opts[key] into dst. Absent and null leave dst as is.
func decodeOption(opts map[string]json.RawMessage, key string, dst any) error {
	raw, ok := opts[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.ValidationField("options."+key, fmt.Sprintf("invalid options.%s: %v", key, err))
	}
	return nil
}

func buildScrape(url string, opts map[string]json.RawMessage) (*browserless.ScrapeBody, error) {
	body := &browserless.ScrapeBody{URL: url}

	var rawElements []json.RawMessage
	if err := decodeOption(opts, "elements", &rawElements); err != nil {
		return nil, err
	}
	elements, err := normalizeElements(rawElements)
	if err != nil {
		return nil, err
	}
	body.Elements = elements

	var gotoOpts *browserless.GotoOptions
	if err := decodeOption(opts, "gotoOptions", &gotoOpts); err != nil {
		return nil, err
	}
	if err := gotoOpts.Validate(); err != nil {
		return nil, apperrors.ValidationField("options.gotoOptions", err.Error())
	}
	body.GotoOptions = gotoOpts

	var wait int
	if err := decodeOption(opts, "waitForTimeout", &wait); err != nil {
		return nil, err
	}
	if wait < 0 {
		return nil, apperrors.ValidationField("options.waitForTimeout", "waitForTimeout must not be negative")
	}
	body.WaitForTimeout = wait

	if raw, ok := opts["waitForSelector"]; ok {
		sel, err := normalizeWaitForSelector(raw)
		if err != nil {
			return nil, err
		}
		body.WaitForSelector = sel
	}
	return body, nil
}

// normalizeElements reduces each entry to {selector}. A bare string is the
// selector itself; objects lose every field but "selector". Absent or null
// elements get the defaults; an explicit empty list is sent as is.
func normalizeElements(raw []json.RawMessage) ([]browserless.Element, error) {
	if raw == nil {
		out := make([]browserless.Element, len(DefaultElements))
		copy(out, DefaultElements)
		return out, nil
	}

	out := make([]browserless.Element, 0, len(raw))
	for i, r := range raw {
		field := fmt.Sprintf("options.elements[%d]", i)
		sel, ok := selectorOf(r)
		if !ok {
			return nil, apperrors.ValidationField(field, field+" must be a selector string or an object with a selector")
		}
		if strings.TrimSpace(sel) == "" {
			return nil, apperrors.ValidationField(field, field+" has an empty selector")
		}
		out = append(out, browserless.Element{Selector: sel})
	}
	return out, nil
}

// selectorOf extracts a selector from a string or an object's "selector"
// field.
func selectorOf(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		Selector *string `json:"selector"`
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return "", false
	}
	if obj.Selector == nil {
		return "", true
	}
	return *obj.Selector, true
}

func normalizeWaitForSelector(raw json.RawMessage) (*browserless.WaitForSelector, error) {
	const field = "options.waitForSelector"
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil, apperrors.ValidationField(field, "waitForSelector must not be empty")
		}
		return &browserless.WaitForSelector{Selector: s}, nil
	}

	var obj browserless.WaitForSelector
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, apperrors.ValidationField(field, "waitForSelector must be a selector string or an object")
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, apperrors.ValidationField(field, fmt.Sprintf("invalid options.waitForSelector: %v", err))
	}
	if strings.TrimSpace(obj.Selector) == "" {
		return nil, apperrors.ValidationField(field, "waitForSelector.selector is required")
	}
	if obj.Timeout < 0 {
		return nil, apperrors.ValidationField(field, "waitForSelector.timeout must not be negative")
	}
	return &obj, nil
}
