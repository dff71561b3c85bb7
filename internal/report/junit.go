package report

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/pkg/errors"
)

// JUnitReport collects one test case per iteration and writes them as a JUnit XML file.
type JUnitReport struct {
	mu    sync.Mutex
	suite junit.Testsuite
}

func NewJUnitReport(name string, hostname string, start time.Time) *JUnitReport {
	return &JUnitReport{
		suite: junit.Testsuite{
			Name:      name,
			Hostname:  hostname,
			Timestamp: start.UTC().Format(time.RFC3339),
		},
	}
}

// Add records r. A failed record carries the failing peer and message.
func (j *JUnitReport) Add(r Record) {
	testcase := junit.Testcase{
		Name:      fmt.Sprintf("%s-%d", r.TestId, r.TestNumber),
		Classname: fmt.Sprintf("rate=%d,parallelCount=%d,messageSize=%s", r.Rate, r.ParallelCount, r.MessageSize),
		Time:      formatSeconds(r.End.Sub(r.Start)),
	}
	if !r.Success {
		message := r.Message
		if r.FailedPeer != "" {
			message = r.FailedPeer + ": " + message
		}
		testcase.Failure = &junit.Result{Message: message, Type: "failure", Data: message}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.suite.Testcases = append(j.suite.Testcases, testcase)
	j.suite.Tests++
	if !r.Success {
		j.suite.Failures++
	}
	elapsed, _ := strconv.ParseFloat(j.suite.Time, 64)
	j.suite.Time = formatSeconds(time.Duration((elapsed)*float64(time.Second)) + r.End.Sub(r.Start))
}

func (j *JUnitReport) Failures() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.suite.Failures
}

func (j *JUnitReport) Write(path string) error {
	j.mu.Lock()
	suites := junit.Testsuites{
		Name:     j.suite.Name,
		Tests:    j.suite.Tests,
		Failures: j.suite.Failures,
		Time:     j.suite.Time,
		Suites:   []junit.Testsuite{j.suite},
	}
	j.mu.Unlock()

	data, err := xml.MarshalIndent(suites, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, append([]byte(xml.Header), data...), 0o644))
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
