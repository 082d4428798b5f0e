// Package diag is the error-reporting side channel of the coverage tools.
//
// Instrumentation never fails a class load because of one bad method, and
// overlay loading never fails because of one unknown class. Such problems
// are reported here and processing continues.
package diag

import (
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// DefaultLogFile is the file errors are written to when logging to a file
// is requested without an explicit path.
const DefaultLogFile = "coverage-error.log"

// Reporter receives recoverable problems.
type Reporter interface {
	Error(msg string, err error)
	Info(msg string)
}

// Configure sets the global log verbosity and, when path is not empty,
// redirects log output to that file.
func Configure(verbosity int, path string) {
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &path)
}

// LogReporter forwards reports to a commonlog logger.
type LogReporter struct {
	log commonlog.Logger
}

// NewLogReporter returns a reporter logging under "magcov.<name>".
func NewLogReporter(name string) *LogReporter {
	return &LogReporter{log: commonlog.GetLogger("magcov." + name)}
}

func (r *LogReporter) Error(msg string, err error) {
	if err == nil {
		r.log.Error(msg)
		return
	}
	r.log.Error(msg, "error", err.Error())
}

func (r *LogReporter) Info(msg string) {
	r.log.Info(msg)
}

// Collector keeps reports in memory. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (c *Collector) Error(msg string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	c.errors = append(c.errors, msg)
}

func (c *Collector) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos = append(c.infos, msg)
}

// Errors returns a copy of the error messages reported so far.
func (c *Collector) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

// Infos returns a copy of the informational messages reported so far.
func (c *Collector) Infos() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.infos...)
}

type nop struct{}

func (nop) Error(string, error) {}
func (nop) Info(string)         {}

// Nop discards every report.
var Nop Reporter = nop{}

// Multi fans reports out to several reporters.
func Multi(reporters ...Reporter) Reporter {
	return multi(reporters)
}

type multi []Reporter

func (m multi) Error(msg string, err error) {
	for _, r := range m {
		r.Error(msg, err)
	}
}

func (m multi) Info(msg string) {
	for _, r := range m {
		r.Info(msg)
	}
}
