// Package upstream implements the resilient client for the external
// Species-Observation grid aggregation endpoint: throttled POSTs, 429/backoff
// handling, and recursive bounding-box splitting when the upstream refuses an
// oversized grid request.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/artobs/taxongrid/internal/model"
)

// HTTPError is returned when the upstream responds with a non-200 status.
// GeogridResilient retries 429s and splits on "too many cells" bodies before
// surfacing it.
type HTTPError struct {
	Status     int
	BodySnippet string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream: http %d: %s", e.Status, e.BodySnippet)
}

// DateFilter narrows a geogrid request to a calendar window.
type DateFilter struct {
	StartDate string
	EndDate   string
}

// BBoxFilter narrows a geogrid request to a bounding box.
type BBoxFilter struct {
	model.BBox
}

// Request describes one geogrid call.
type Request struct {
	TaxonIDs []int
	Zoom     int
	Date     *DateFilter
	BBox     *BBoxFilter
}

const tooManyCellsPhraseA = "number of cells"
const tooManyCellsPhraseB = "65535 cells"
const tooLargePhrase = "too large"

// Config tunes the client's throttling and retry behavior.
type Config struct {
	BaseURL         string
	SubscriptionKey string
	Authorization   string
	Timeout         time.Duration
	MinInterval     time.Duration
	MaxRetries      int
}

// Client is a single process-wide throttled upstream client.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New builds a Client. Min interval defaults to 15s if unset; timeout
// defaults to 180s.
func New(cfg Config) *Client {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// Geogrid issues a single grid-aggregation POST and returns the decoded
// cells. It fails with *HTTPError on any non-200 response.
func (c *Client) Geogrid(ctx context.Context, req Request) ([]model.GridCell, error) {
	body, err := buildBody(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, req.Zoom, body)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GeogridResilient wraps Geogrid: on a "too many cells" response it
// recursively quadrant-splits the active bbox (up to maxDepth) and merges
// sub-payloads by (x, y), summing observation and taxa counts.
func (c *Client) GeogridResilient(ctx context.Context, req Request, maxDepth int) ([]model.GridCell, error) {
	return c.geogridResilient(ctx, req, maxDepth, 0)
}

func (c *Client) geogridResilient(ctx context.Context, req Request, maxDepth, depth int) ([]model.GridCell, error) {
	cells, err := c.postWithBackoff(ctx, req)
	if err == nil {
		return cells, nil
	}

	var tooBig *tooManyCellsError
	if !asTooManyCells(err, &tooBig) || depth >= maxDepth || req.BBox == nil {
		return nil, err
	}

	quadrants := splitBBox(req.BBox.BBox)
	merged := map[[2]int]model.GridCell{}
	for _, q := range quadrants {
		sub := req
		bb := BBoxFilter{BBox: q}
		sub.BBox = &bb
		subCells, err := c.geogridResilient(ctx, sub, maxDepth, depth+1)
		if err != nil {
			return nil, err
		}
		mergeCells(merged, subCells)
	}

	out := make([]model.GridCell, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	return out, nil
}

// MergeCellLists merges multiple bbox-quadrant cell lists by (x, y):
// observation and taxa counts are summed, since each quadrant covers a
// disjoint slice of the same single fetch and every cell it reports is
// additional signal. Used for resilient bbox-split merging only.
func MergeCellLists(lists ...[]model.GridCell) []model.GridCell {
	merged := map[[2]int]model.GridCell{}
	for _, list := range lists {
		mergeCells(merged, list)
	}
	out := make([]model.GridCell, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	return out
}

// MergeCellListsAllYears merges multiple per-year cell lists by (x, y) into
// the slot's all-years layer: observation counts are summed across years,
// but taxa counts take the max observed in any single year rather than a
// sum, since the same taxon recurring in cell (x, y) across years is one
// taxon present, not one-per-year.
func MergeCellListsAllYears(lists ...[]model.GridCell) []model.GridCell {
	merged := map[[2]int]model.GridCell{}
	for _, list := range lists {
		mergeCellsMaxTaxa(merged, list)
	}
	out := make([]model.GridCell, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	return out
}

func mergeCells(into map[[2]int]model.GridCell, cells []model.GridCell) {
	for _, c := range cells {
		key := [2]int{c.X, c.Y}
		if existing, ok := into[key]; ok {
			existing.ObservationsCount += c.ObservationsCount
			existing.TaxaCount += c.TaxaCount
			into[key] = existing
			continue
		}
		into[key] = c
	}
}

func mergeCellsMaxTaxa(into map[[2]int]model.GridCell, cells []model.GridCell) {
	for _, c := range cells {
		key := [2]int{c.X, c.Y}
		if existing, ok := into[key]; ok {
			existing.ObservationsCount += c.ObservationsCount
			if c.TaxaCount > existing.TaxaCount {
				existing.TaxaCount = c.TaxaCount
			}
			into[key] = existing
			continue
		}
		into[key] = c
	}
}

// splitBBox divides a bbox into four non-overlapping quadrants by mid-lat
// and mid-lon.
func splitBBox(b model.BBox) []model.BBox {
	midLat := (b.TopLat + b.BottomLat) / 2
	midLon := (b.LeftLon + b.RightLon) / 2
	return []model.BBox{
		{TopLat: b.TopLat, LeftLon: b.LeftLon, BottomLat: midLat, RightLon: midLon},
		{TopLat: b.TopLat, LeftLon: midLon, BottomLat: midLat, RightLon: b.RightLon},
		{TopLat: midLat, LeftLon: b.LeftLon, BottomLat: b.BottomLat, RightLon: midLon},
		{TopLat: midLat, LeftLon: midLon, BottomLat: b.BottomLat, RightLon: b.RightLon},
	}
}

type tooManyCellsError struct {
	bodySnippet string
}

func (e *tooManyCellsError) Error() string {
	return "upstream: too many cells: " + e.bodySnippet
}

func asTooManyCells(err error, target **tooManyCellsError) bool {
	if tm, ok := err.(*tooManyCellsError); ok {
		*target = tm
		return true
	}
	return false
}

func isTooManyCellsBody(body string) bool {
	lower := strings.ToLower(body)
	if strings.Contains(lower, tooManyCellsPhraseA) && strings.Contains(lower, tooLargePhrase) {
		return true
	}
	return strings.Contains(lower, tooManyCellsPhraseB)
}

// postWithBackoff enforces the process-wide throttle, then POSTs with
// exponential backoff honoring Retry-After headers and "Try again in N
// seconds" body hints, capping individual waits at 120s and bounding total
// retries to cfg.MaxRetries.
func (c *Client) postWithBackoff(ctx context.Context, req Request) ([]model.GridCell, error) {
	body, err := buildBody(req)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 120 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		cells, retryAfter, terminal, attemptErr := c.attempt(ctx, req.Zoom, body)
		if attemptErr == nil {
			return cells, nil
		}
		lastErr = attemptErr
		if terminal {
			return nil, attemptErr
		}

		wait := retryAfter
		if wait <= 0 {
			wait = bo.NextBackOff()
			if wait > 120*time.Second {
				wait = 120 * time.Second
			}
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, zoom int, body []byte) (cells []model.GridCell, retryAfter time.Duration, terminal bool, err error) {
	resp, err := c.post(ctx, zoom, body)
	if err == nil {
		return resp, 0, false, nil
	}

	var httpErr *HTTPError
	if e, ok := err.(*HTTPError); ok {
		httpErr = e
	}
	if httpErr == nil {
		return nil, 0, false, err
	}

	if isTooManyCellsBody(httpErr.BodySnippet) {
		return nil, 0, true, &tooManyCellsError{bodySnippet: httpErr.BodySnippet}
	}

	if httpErr.Status == http.StatusTooManyRequests {
		return nil, parseRetryHint(httpErr.BodySnippet), false, err
	}

	return nil, 0, true, err
}

func parseRetryHint(body string) time.Duration {
	idx := strings.Index(strings.ToLower(body), "try again in")
	if idx < 0 {
		return 0
	}
	rest := body[idx+len("try again in"):]
	rest = strings.TrimSpace(rest)
	var n int
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 0
	}
	d := time.Duration(n) * time.Second
	if d > 120*time.Second {
		d = 120 * time.Second
	}
	return d
}

func (c *Client) post(ctx context.Context, zoom int, body []byte) ([]model.GridCell, error) {
	url := fmt.Sprintf("%s/GeoGrid?zoom=%d&validateSearchFilter=true&translationCultureCode=sv-SE&sensitiveObservations=false&skipCache=false",
		strings.TrimRight(c.cfg.BaseURL, "/"), zoom)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	if c.cfg.Authorization != "" {
		httpReq.Header.Set("Authorization", c.cfg.Authorization)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					snippet = fmt.Sprintf("Try again in %d seconds. %s", secs, snippet)
				}
			}
		}
		return nil, &HTTPError{Status: resp.StatusCode, BodySnippet: snippet}
	}

	var decoded geogridResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("upstream: decode response: %w", err)
	}
	return decoded.toGridCells(zoom), nil
}

type geogridResponse struct {
	GridCells []geogridCell `json:"gridCells"`
}

type geogridCell struct {
	X                 int     `json:"x"`
	Y                 int     `json:"y"`
	Zoom              int     `json:"zoom"`
	ObservationsCount int64   `json:"observationsCount"`
	TaxaCount         int64   `json:"taxaCount"`
	BoundingBox       latlonBox `json:"boundingBox"`
}

type latlonBox struct {
	TopLeft     latlon `json:"topLeft"`
	BottomRight latlon `json:"bottomRight"`
}

type latlon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (r geogridResponse) toGridCells(zoom int) []model.GridCell {
	out := make([]model.GridCell, 0, len(r.GridCells))
	for _, c := range r.GridCells {
		z := c.Zoom
		if z == 0 {
			z = zoom
		}
		out = append(out, model.GridCell{
			X:                 c.X,
			Y:                 c.Y,
			Zoom:              z,
			ObservationsCount: coerce(c.ObservationsCount),
			TaxaCount:         coerce(c.TaxaCount),
			BBox: model.BBox{
				TopLat:    c.BoundingBox.TopLeft.Latitude,
				LeftLon:   c.BoundingBox.TopLeft.Longitude,
				BottomLat: c.BoundingBox.BottomRight.Latitude,
				RightLon:  c.BoundingBox.BottomRight.Longitude,
			},
		})
	}
	return out
}

func coerce(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

type taxonFilter struct {
	IDs                  []int `json:"ids"`
	IncludeUnderlyingTaxa bool `json:"includeUnderlyingTaxa"`
}

type dateFilterBody struct {
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	DateFilterType string `json:"dateFilterType"`
}

type geographicsFilter struct {
	BoundingBox boundingBoxBody `json:"boundingBox"`
}

type boundingBoxBody struct {
	TopLeft     latlon `json:"topLeft"`
	BottomRight latlon `json:"bottomRight"`
}

type requestBody struct {
	Taxon       taxonFilter        `json:"taxon"`
	Date        *dateFilterBody    `json:"date,omitempty"`
	Geographics *geographicsFilter `json:"geographics,omitempty"`
}

func buildBody(req Request) ([]byte, error) {
	body := requestBody{
		Taxon: taxonFilter{IDs: req.TaxonIDs, IncludeUnderlyingTaxa: false},
	}
	if req.Date != nil {
		body.Date = &dateFilterBody{
			StartDate:      req.Date.StartDate,
			EndDate:        req.Date.EndDate,
			DateFilterType: "BetweenStartDateAndEndDate",
		}
	}
	if req.BBox != nil {
		body.Geographics = &geographicsFilter{
			BoundingBox: boundingBoxBody{
				TopLeft:     latlon{Latitude: req.BBox.TopLat, Longitude: req.BBox.LeftLon},
				BottomRight: latlon{Latitude: req.BBox.BottomLat, Longitude: req.BBox.RightLon},
			},
		}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal request body: %w", err)
	}
	return buf, nil
}
