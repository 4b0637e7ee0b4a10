// Package browserless describes the request bodies accepted by the
// Browserless REST endpoints (/screenshot, /pdf, /content, /scrape).
//
// Only the fields below are ever forwarded. Option structs are validated
// before a body is built; zero values are omitted so the provider applies
// its own defaults.
package browserless

import (
	"fmt"
	"strings"
)

// Endpoint is the path of a provider operation.
type Endpoint string

const (
	EndpointScreenshot Endpoint = "/screenshot"
	EndpointPDF        Endpoint = "/pdf"
	EndpointContent    Endpoint = "/content"
	EndpointScrape     Endpoint = "/scrape"
)

// ScreenshotBody is posted to /screenshot.
type ScreenshotBody struct {
	URL     string            `json:"url"`
	Options ScreenshotOptions `json:"options"`
}

// PDFBody is posted to /pdf.
type PDFBody struct {
	URL     string     `json:"url"`
	Options PDFOptions `json:"options"`
}

// ContentBody is posted to /content.
type ContentBody struct {
	URL string `json:"url"`
}

// ScrapeBody is posted to /scrape.
type ScrapeBody struct {
	URL             string           `json:"url"`
	Elements        []Element        `json:"elements"`
	GotoOptions     *GotoOptions     `json:"gotoOptions,omitempty"`
	WaitForTimeout  int              `json:"waitForTimeout,omitempty"`
	WaitForSelector *WaitForSelector `json:"waitForSelector,omitempty"`
}

// Element selects what /scrape extracts. Nothing but the selector is sent.
type Element struct {
	Selector string `json:"selector"`
}

// WaitForSelector makes the provider wait for a selector before scraping.
type WaitForSelector struct {
	Selector string `json:"selector"`
	Timeout  int    `json:"timeout,omitempty"`
}

// GotoOptions tunes page navigation.
type GotoOptions struct {
	WaitUntil string `json:"waitUntil,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
}

// Validate checks navigation options.
func (g *GotoOptions) Validate() error {
	if g == nil {
		return nil
	}
	switch g.WaitUntil {
	case "", "load", "domcontentloaded", "networkidle0", "networkidle2":
	default:
		return fmt.Errorf("gotoOptions.waitUntil must be one of load, domcontentloaded, networkidle0, networkidle2")
	}
	if g.Timeout < 0 {
		return fmt.Errorf("gotoOptions.timeout must not be negative")
	}
	return nil
}

// Clip is a capture rectangle in CSS pixels.
type Clip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScreenshotOptions are the supported page.screenshot options.
type ScreenshotOptions struct {
	Type                  string `json:"type,omitempty"`
	Quality               *int   `json:"quality,omitempty"`
	FullPage              bool   `json:"fullPage,omitempty"`
	OmitBackground        bool   `json:"omitBackground,omitempty"`
	CaptureBeyondViewport *bool  `json:"captureBeyondViewport,omitempty"`
	OptimizeForSpeed      bool   `json:"optimizeForSpeed,omitempty"`
	Clip                  *Clip  `json:"clip,omitempty"`
}

// Validate checks screenshot options.
func (o ScreenshotOptions) Validate() error {
	switch o.Type {
	case "", "png", "jpeg", "webp":
	default:
		return fmt.Errorf("screenshot.type must be one of png, jpeg, webp")
	}
	if o.Quality != nil {
		if o.Type != "jpeg" && o.Type != "webp" {
			return fmt.Errorf("screenshot.quality is only supported for jpeg and webp")
		}
		if *o.Quality < 0 || *o.Quality > 100 {
			return fmt.Errorf("screenshot.quality must be between 0 and 100")
		}
	}
	if o.Clip != nil && (o.Clip.Width <= 0 || o.Clip.Height <= 0) {
		return fmt.Errorf("screenshot.clip width and height must be positive")
	}
	return nil
}

// Margin is a PDF page margin; values are CSS lengths ("1cm", "10px").
type Margin struct {
	Top    string `json:"top,omitempty"`
	Right  string `json:"right,omitempty"`
	Bottom string `json:"bottom,omitempty"`
	Left   string `json:"left,omitempty"`
}

// PDFOptions are the supported page.pdf options.
type PDFOptions struct {
	Format              string   `json:"format,omitempty"`
	Landscape           bool     `json:"landscape,omitempty"`
	PrintBackground     bool     `json:"printBackground,omitempty"`
	Scale               *float64 `json:"scale,omitempty"`
	DisplayHeaderFooter bool     `json:"displayHeaderFooter,omitempty"`
	HeaderTemplate      string   `json:"headerTemplate,omitempty"`
	FooterTemplate      string   `json:"footerTemplate,omitempty"`
	PageRanges          string   `json:"pageRanges,omitempty"`
	Width               string   `json:"width,omitempty"`
	Height              string   `json:"height,omitempty"`
	PreferCSSPageSize   bool     `json:"preferCSSPageSize,omitempty"`
	OmitBackground      bool     `json:"omitBackground,omitempty"`
	Margin              *Margin  `json:"margin,omitempty"`
}

var pdfFormats = map[string]bool{
	"letter": true, "legal": true, "tabloid": true, "ledger": true,
	"a0": true, "a1": true, "a2": true, "a3": true, "a4": true, "a5": true, "a6": true,
}

// Validate checks PDF options.
func (o PDFOptions) Validate() error {
	if o.Format != "" && !pdfFormats[strings.ToLower(o.Format)] {
		return fmt.Errorf("pdf.format %q is not supported", o.Format)
	}
	if o.Scale != nil && (*o.Scale < 0.1 || *o.Scale > 2) {
		return fmt.Errorf("pdf.scale must be between 0.1 and 2")
	}
	return nil
}
