package reports

import (
	"errors"
	"fmt"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/mod/semver"

	"github.com/calderadb/quotad/pkg/metrics"
	"github.com/calderadb/quotad/pkg/quota"
)

const (
	SupportedReportVersion      = "v2.1"
	SupportedReportMajorVersion = "v2"
)

// Batch is the Go-ish version of the JSON body a region server publishes,
// over HTTP or on the report queue.
type Batch struct {
	ReportVersion string         `json:"reportVersion"`
	Server        string         `json:"server"`
	SentAt        time.Time      `json:"sentAt"`
	Reports       []RegionReport `json:"reports"`
}

// RegionReport is one region's occupied size as reported by its server.
type RegionReport struct {
	Table     string `json:"table"`
	Region    string `json:"region"`
	SizeBytes *int64 `json:"sizeBytes"`
}

// RegionSize is a parsed RegionReport, ready to apply to a Registry.
type RegionSize struct {
	Region    quota.Region
	SizeBytes int64
}

var (
	ErrBadVersion   = errors.New("version incompatible with " + SupportedReportVersion)
	ErrMissingField = errors.New("field missing")
	ErrNegativeSize = errors.New("negative size")
)

// CheckVersion verifies that a batch's report schema version is one this
// build understands: same major version, not newer than the supported minor.
func CheckVersion(version string) error {
	if version == SupportedReportVersion {
		return nil
	}
	if !strings.HasPrefix(version, "v") {
		// Report version strings don't start with "v", Go semver
		// strings do...
		version = "v" + version
	}
	major := semver.Major(version)
	if major != SupportedReportMajorVersion || semver.Compare(version, SupportedReportVersion) > 0 {
		return fmt.Errorf("%s: %w", version, ErrBadVersion)
	}
	return nil
}

// ParseReport extracts a RegionSize from a RegionReport.
func ParseReport(r *RegionReport) (RegionSize, error) {
	if r.Table == "" {
		return RegionSize{}, fmt.Errorf("table %w", ErrMissingField)
	}
	table, err := quota.ParseTableName(r.Table)
	if err != nil {
		return RegionSize{}, err
	}
	if r.Region == "" {
		return RegionSize{}, fmt.Errorf("region %w", ErrMissingField)
	}
	if r.SizeBytes == nil {
		return RegionSize{}, fmt.Errorf("sizeBytes %w", ErrMissingField)
	}
	if *r.SizeBytes < 0 {
		return RegionSize{}, fmt.Errorf("%d: %w", *r.SizeBytes, ErrNegativeSize)
	}
	return RegionSize{
		Region:    quota.Region{Table: table, ID: r.Region},
		SizeBytes: *r.SizeBytes,
	}, nil
}

// Recorder receives parsed region sizes.  *Registry is the production
// implementation.
type Recorder interface {
	RecordSize(region quota.Region, sizeBytes int64, when time.Time)
}

// ApplyBatch parses every report in batch and records the valid ones on rec.
// Records are independent: a bad record is reported in the returned error
// but does not stop the rest of the batch.
func ApplyBatch(batch *Batch, rec Recorder) error {
	if err := CheckVersion(batch.ReportVersion); err != nil {
		return err
	}
	when := batch.SentAt
	if when.IsZero() {
		when = time.Now()
	}
	var merr *multierror.Error
	for i := range batch.Reports {
		size, err := ParseReport(&batch.Reports[i])
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("report @%d: %w", i, err))
			continue
		}
		rec.RecordSize(size.Region, size.SizeBytes, when)
		metrics.RegionReportsTotal.Inc()
	}
	return merr.ErrorOrNil()
}
