package retrieval

import (
	"fmt"
	"time"
)

// Resolutions accepted in a request, matching the store's group-by windows.
var validResolutions = map[string]bool{
	"1s":  true,
	"5s":  true,
	"15s": true,
	"1m":  true,
	"5m":  true,
	"15m": true,
	"1h":  true,
}

// DefaultResolution is used when the caller does not specify one.
const DefaultResolution = "1m"

// Request describes one retrieval run. It is constructed once via NewRequest
// and passed by value through the pipeline; nothing mutates it afterwards.
type Request struct {
	Host     string
	Port     int
	Database string

	// Prefix selects the site's field mapping.
	Prefix string

	// UnitIDs is the ordered list of units to export.
	UnitIDs []string

	// Start and End are inclusive dates; the queried window runs from
	// Start 00:00:00 UTC through the end of the End day.
	Start time.Time
	End   time.Time

	// Resolution is the sample window, e.g. "1m".
	Resolution string
}

// NewRequest validates the caller's input and returns an immutable request.
// The unit list is copied so later mutation by the caller cannot leak in.
func NewRequest(host string, port int, database, prefix string, unitIDs []string, start, end time.Time, resolution string) (Request, error) {
	if resolution == "" {
		resolution = DefaultResolution
	}
	req := Request{
		Host:       host,
		Port:       port,
		Database:   database,
		Prefix:     prefix,
		UnitIDs:    append([]string(nil), unitIDs...),
		Start:      start.UTC(),
		End:        end.UTC(),
		Resolution: resolution,
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks the request invariants. A zero-value or partially filled
// request fails here before any query is built.
func (r Request) Validate() error {
	switch {
	case r.Host == "":
		return fmt.Errorf("%w: missing host", ErrInvalidRequest)
	case r.Port <= 0 || r.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidRequest, r.Port)
	case r.Database == "":
		return fmt.Errorf("%w: missing database", ErrInvalidRequest)
	case r.Prefix == "":
		return fmt.Errorf("%w: missing prefix", ErrInvalidRequest)
	case len(r.UnitIDs) == 0:
		return fmt.Errorf("%w: empty unit list", ErrInvalidRequest)
	case r.Start.IsZero() || r.End.IsZero():
		return fmt.Errorf("%w: missing date range", ErrInvalidRequest)
	case r.Start.After(r.End):
		return fmt.Errorf("%w: start date after end date", ErrInvalidRequest)
	case !validResolutions[r.Resolution]:
		return fmt.Errorf("%w: unsupported resolution %q", ErrInvalidRequest, r.Resolution)
	}
	for _, u := range r.UnitIDs {
		if u == "" {
			return fmt.Errorf("%w: empty unit identifier", ErrInvalidRequest)
		}
	}
	return nil
}

// Window returns the concrete query time range covered by the inclusive
// date range: [Start 00:00:00Z, End 23:59:59Z].
func (r Request) Window() (start, end time.Time) {
	start = time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 23, 59, 59, 0, time.UTC)
	return start, end
}

// StoreAddress renders the target store as host:port/database for logs and
// manifests.
func (r Request) StoreAddress() string {
	return fmt.Sprintf("%s:%d/%s", r.Host, r.Port, r.Database)
}
