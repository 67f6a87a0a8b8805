// Package google reads budget ranges from Google Sheets.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.trai.ch/zerr"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"presupuesto/internal/core"
	"presupuesto/internal/sources"
)

// Credentials selects how the Sheets service authenticates. The first
// non-empty field wins, in declaration order.
type Credentials struct {
	ServiceAccountJSON string
	ServiceAccountFile string
	APIKey             string
}

// NewService initializes a read-only Sheets service. Extra options are
// appended last, which lets tests point it at a local endpoint.
func NewService(ctx context.Context, creds Credentials, extra ...goption.ClientOption) (*gsheet.Service, error) {
	var opts []goption.ClientOption

	switch {
	case strings.TrimSpace(creds.ServiceAccountJSON) != "":
		opts = append(opts,
			goption.WithCredentialsJSON([]byte(creds.ServiceAccountJSON)),
			goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	case strings.TrimSpace(creds.ServiceAccountFile) != "":
		data, err := os.ReadFile(creds.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		opts = append(opts,
			goption.WithCredentialsJSON(data),
			goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	case strings.TrimSpace(creds.APIKey) != "":
		opts = append(opts, goption.WithAPIKey(creds.APIKey))
	case len(extra) == 0:
		return nil, errors.New("missing Google credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_API_KEY)")
	}

	svc, err := gsheet.NewService(ctx, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

var _ sources.Source = (*Source)(nil)

// Source reads one A1 range. The first row of the range is the header.
type Source struct {
	svc           *gsheet.Service
	name          string
	spreadsheetID string
	rng           string
	timeout       time.Duration
}

func New(svc *gsheet.Service, name, spreadsheetID, rng string, timeout time.Duration) *Source {
	return &Source{
		svc:           svc,
		name:          name,
		spreadsheetID: spreadsheetID,
		rng:           rng,
		timeout:       timeout,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Location() string {
	return "sheets://" + s.spreadsheetID + "/" + s.rng
}

func (s *Source) Fetch(ctx context.Context) ([]core.RawRow, error) {
	if s.svc == nil {
		return nil, core.Failure(core.ErrTransport, s.name, errors.New("sheets service not initialized"))
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.rng).Context(ctx).Do()
	if err != nil {
		fail := core.Failure(core.ErrTransport, s.name, err)
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			fail = zerr.With(fail, "status", gerr.Code)
		}
		return nil, fail
	}
	if len(resp.Values) == 0 {
		return nil, core.Failure(core.ErrDecode, s.name, fmt.Errorf("range %s is empty", s.rng))
	}

	rows := make([]core.RawRow, 0, len(resp.Values))
	for _, row := range resp.Values {
		rows = append(rows, toStrings(row))
	}
	return rows, nil
}

func toStrings(in []interface{}) core.RawRow {
	out := make(core.RawRow, len(in))
	for i, v := range in {
		switch x := v.(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = strings.TrimSpace(x)
		case float64:
			out[i] = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			out[i] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return out
}
