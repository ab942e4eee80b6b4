package queue_handler_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/go-test/deep"

	"github.com/calderadb/quotad/pkg/queue_handler"
	"github.com/calderadb/quotad/pkg/quota"
	"github.com/calderadb/quotad/pkg/reports"
)

type Recorder struct {
	mu sync.Mutex
	V  map[string]int64
}

func makeRecorder() *Recorder {
	ret := &Recorder{}
	ret.V = make(map[string]int64)
	return ret
}

func (r *Recorder) RecordSize(region quota.Region, sizeBytes int64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.V[region.Table.String()+"/"+region.ID] = sizeBytes
}

func (r *Recorder) Diff(expectedV map[string]int64) []string {
	r.mu.Lock()
	if len(expectedV) == 0 && len(r.V) == 0 {
		return nil
	}
	actualV := make(map[string]int64, len(r.V))
	for k, v := range r.V {
		actualV[k] = v
	}
	r.mu.Unlock()
	return deep.Equal(expectedV, actualV)
}

func ptr(s string) *string {
	return &s
}

// report is the wire form of a single region size report.
type report struct {
	Table  string `json:"table"`
	Region string `json:"region"`
	Size   *int64 `json:"sizeBytes"`
}

// makeReport returns a report with some useful defaults.
func makeReport() *report {
	return &report{}
}

// WithTable returns report with the table name set.
func (r *report) WithTable(table string) *report {
	r.Table = table
	return r
}

// WithRegion returns report with the region ID set.
func (r *report) WithRegion(region string) *report {
	r.Region = region
	return r
}

// WithSize returns report with the region size set.
func (r *report) WithSize(size int64) *report {
	r.Size = &size
	return r
}

// makeMessage returns a message by JSONifying a batch of all the reports.
func makeMessage(version string, reps ...interface{}) *sqs.Message {
	type body struct {
		ReportVersion string        `json:"reportVersion"`
		Server        string        `json:"server"`
		Reports       []interface{} `json:"reports"`
	}
	jsonBody, err := json.Marshal(body{ReportVersion: version, Server: "rs-test-1", Reports: reps})
	if err != nil {
		panic(err)
	}
	return &sqs.Message{Body: ptr(string(jsonBody))}
}

// verifyError returns a function that returns an error that cannot be
// repeatedly Unwrapped to some error that errors.Is target.  The returned
// function correctly searches multierror.Error.
func verifyError(target error) func(err error) error {
	return func(err error) error {
		for curErr := errors.Unwrap(err); curErr != nil; curErr = errors.Unwrap(curErr) {
			if errors.Is(curErr, target) {
				return nil
			}
		}
		return fmt.Errorf("expecting error \"%s\"", target)
	}
}

func TestApplyMessage(t *testing.T) {
	cases := []struct {
		Name string
		In   *sqs.Message

		Out          map[string]int64
		ErrPredicate func(err error) error
	}{
		{
			Name: "SingleRegionRecorded",
			In: makeMessage("2.1",
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(17),
			),
			Out: map[string]int64{"apps:events/r1": 17},
		}, {
			Name: "LastReportWins",
			In: makeMessage("2.1",
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(17),
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(25),
			),
			Out: map[string]int64{"apps:events/r1": 25},
		}, {
			Name: "MultipleRegionsRecorded",
			In: makeMessage("2.1",
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(11),
				makeReport().WithTable("apps:events").WithRegion("r2").WithSize(22),
				makeReport().WithTable("orders").WithRegion("r1").WithSize(33),
			),
			Out: map[string]int64{
				"apps:events/r1":    11,
				"apps:events/r2":    22,
				"default:orders/r1": 33,
			},
		}, {
			Name: "EmptyBatch",
			In:   makeMessage("2.1"),
		}, {
			Name: "ReportWithNoTable",
			In: makeMessage("2.1",
				makeReport().WithRegion("r1").WithSize(11),
				makeReport().WithTable("apps:events").WithRegion("r2").WithSize(22),
			),
			ErrPredicate: verifyError(reports.ErrMissingField),
		}, {
			Name: "ReportWithNoRegion",
			In: makeMessage("2.1",
				makeReport().WithTable("apps:events").WithSize(11),
				makeReport().WithTable("apps:events").WithRegion("r2").WithSize(22),
			),
			ErrPredicate: verifyError(reports.ErrMissingField),
		}, {
			Name: "ReportWithNoSize",
			In: makeMessage("2.1",
				makeReport().WithTable("apps:events").WithRegion("r1"),
			),
			ErrPredicate: verifyError(reports.ErrMissingField),
		}, {
			Name: "ReportWithNegativeSize",
			In: makeMessage("2.1",
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(-4),
			),
			ErrPredicate: verifyError(reports.ErrNegativeSize),
		}, {
			Name: "BadMajorBatchVersion",
			In: makeMessage("9.0",
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(11),
			),
			ErrPredicate: verifyError(reports.ErrBadVersion),
		}, {
			Name: "NewerMinorBatchVersion",
			In: makeMessage("2.2",
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(11),
			),
			ErrPredicate: verifyError(reports.ErrBadVersion),
		}, {
			Name: "OlderMinorBatchVersion",
			In: makeMessage("2.0",
				makeReport().WithTable("apps:events").WithRegion("r1").WithSize(11),
			),
			Out: map[string]int64{"apps:events/r1": 11},
		}, {
			Name: "MultipleErrorsReported",
			In: makeMessage("2.1",
				makeReport().WithTable("apps:events").WithRegion("r1"),
				makeReport().WithTable("apps:events").WithRegion("r2").WithSize(-9),
				makeReport().WithTable("apps:events").WithRegion("r3").WithSize(33),
			),
			ErrPredicate: func(err error) error {
				if vErr := verifyError(reports.ErrMissingField)(err); vErr != nil {
					return vErr
				}
				return verifyError(reports.ErrNegativeSize)(err)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			rec := makeRecorder()
			err := queue_handler.ApplyMessage(tc.In, rec)
			if tc.ErrPredicate != nil {
				testErr := tc.ErrPredicate(err)
				if testErr != nil {
					t.Errorf("got error %s: %s", err, testErr)
				}
			} else {
				if err != nil {
					t.Errorf("ApplyMessage failed on %s: %s", *tc.In.Body, err)
				}
				if diffs := rec.Diff(tc.Out); diffs != nil {
					t.Errorf("Unexpected values for %s: %v", *tc.In.Body, diffs)
				}
			}
		})
	}
}

func TestApplyMessageBadRecordsDoNotStopBatch(t *testing.T) {
	rec := makeRecorder()
	msg := makeMessage("2.1",
		makeReport().WithTable("apps:events").WithRegion("r1"),
		makeReport().WithTable("apps:events").WithRegion("r2").WithSize(22),
	)
	err := queue_handler.ApplyMessage(msg, rec)
	if testErr := verifyError(reports.ErrMissingField)(err); testErr != nil {
		t.Errorf("got error %s: %s", err, testErr)
	}
	if diffs := rec.Diff(map[string]int64{"apps:events/r2": 22}); diffs != nil {
		t.Errorf("valid records not applied: %v", diffs)
	}
}

func TestApplyMessageBadJSON(t *testing.T) {
	rec := makeRecorder()
	msg := &sqs.Message{MessageId: ptr("m-1"), Body: ptr("{not json")}
	if err := queue_handler.ApplyMessage(msg, rec); err == nil {
		t.Error("ApplyMessage succeeded on malformed JSON")
	}
	if diffs := rec.Diff(nil); diffs != nil {
		t.Errorf("unexpected records: %v", diffs)
	}
}
