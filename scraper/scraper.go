// Package scraper handles fetching and parsing the funpay listing page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"funpay-notifier/pkg/offer"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// ErrNoOffers indicates the page yielded zero usable listings. Callers must
// treat this as a failed scrape (likely a bot-challenge or layout change),
// never as "every tracked offer was removed".
var ErrNoOffers = errors.New("no offers found on listing page")

// HTTP403Error indicates a 403 Forbidden response (bot detection).
type HTTP403Error struct {
	URL string
}

func (e *HTTP403Error) Error() string {
	return fmt.Sprintf("HTTP 403 Forbidden: %s", e.URL)
}

// IsHTTP403Error checks if an error is an HTTP 403 error.
func IsHTTP403Error(err error) bool {
	var forbidden *HTTP403Error
	return errors.As(err, &forbidden)
}

// Scraper fetches and parses one funpay listing collection page.
type Scraper struct {
	client  *http.Client
	logger  *slog.Logger
	pageURL string
	delay   time.Duration // courtesy delay before each fetch
}

// New creates a new scraper for the given listing page.
func New(client *http.Client, pageURL string, delay time.Duration, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:  client,
		logger:  logger,
		pageURL: pageURL,
		delay:   delay,
	}
}

// Fetch retrieves the listing page and returns all extractable offers keyed
// by id. Listings with no valid id are dropped with a warning; listings with
// an unparsable price are kept with a nil price.
func (s *Scraper) Fetch(ctx context.Context) (map[string]offer.Offer, error) {
	if s.delay > 0 {
		s.logger.Info("Waiting before fetch", "delay", s.delay.String())
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var offers map[string]offer.Offer

	err := retry.Do(
		func() error {
			s.logger.Info("HTTP request starting",
				"method", "GET",
				"url", s.pageURL,
				"purpose", "fetch_listing_page")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Chrome-like headers to avoid getting blocked
			req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,application/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")
			req.Header.Set("Referer", "https://funpay.com/en/")
			// Force USD price display
			req.AddCookie(&http.Cookie{Name: "cy", Value: "USD"})

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", s.pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", s.pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", resp.ContentLength)

			if resp.StatusCode == http.StatusForbidden {
				s.logger.Warn("HTTP 403 Forbidden - likely bot detection", "url", s.pageURL)
				return retry.Unrecoverable(&HTTP403Error{URL: s.pageURL})
			}

			if resp.StatusCode != http.StatusOK {
				s.logger.Warn("HTTP request returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			offers, err = s.parseListing(resp.Body)
			if err != nil {
				s.logger.Error("Failed to parse listing page", "error", err)
				return retry.Unrecoverable(err)
			}

			s.logger.Info("Listing page parsed successfully",
				"url", s.pageURL,
				"offers_found", len(offers))

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return offers, nil
}

func (s *Scraper) parseListing(body io.Reader) (map[string]offer.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	rows := doc.Find("a.tc-item")
	if rows.Length() == 0 {
		return nil, fmt.Errorf("%w: no listing rows in document", ErrNoOffers)
	}

	offers := make(map[string]offer.Offer)
	var dropped int

	rows.Each(func(_ int, row *goquery.Selection) {
		href, _ := row.Attr("href")
		id := ExtractOfferID(href)
		if id == "" {
			s.logger.Warn("Dropping listing with missing or non-numeric id", "href", href)
			dropped++
			return
		}

		description := strings.TrimSpace(row.Find("div.tc-desc-text").First().Text())
		if description == "" {
			description = "N/A"
		}
		seller := strings.TrimSpace(row.Find("div.media-user-name").First().Text())
		if seller == "" {
			seller = "N/A"
		}
		priceText := strings.TrimSpace(row.Find("div.tc-price").First().Text())
		if priceText == "" {
			priceText = "N/A"
		}

		price := ExtractPrice(priceText)
		if price == nil {
			s.logger.Warn("Could not parse price, keeping offer without one", "offer_id", id, "price_text", priceText)
		}

		sp, corrected := ExtractSP(description)
		if corrected {
			s.logger.Warn("Abnormal skill point value, corrected from raw points to millions",
				"offer_id", id, "sp_million", *sp)
		}

		offers[id] = offer.Offer{
			ID:          id,
			Description: description,
			Seller:      seller,
			Price:       price,
			PriceText:   priceText,
			SP:          sp,
			Link:        href,
		}
	})

	if dropped > 0 {
		s.logger.Warn("Dropped unextractable listings", "dropped", dropped, "kept", len(offers))
	}

	if len(offers) == 0 {
		return nil, fmt.Errorf("%w: %d rows found, none extractable", ErrNoOffers, rows.Length())
	}

	return offers, nil
}
