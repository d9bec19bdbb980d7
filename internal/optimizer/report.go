package optimizer

import (
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/villaretreat/imagepipe/internal/errors"
)

// ArtifactResult is the captured outcome of one artifact task.
type ArtifactResult struct {
	Artifact Artifact
	Output   Output
	Err      error
	Duration time.Duration
}

// OK reports whether the artifact was written.
func (r ArtifactResult) OK() bool { return r.Err == nil }

// DirectoryReport describes what happened to one configured directory.
type DirectoryReport struct {
	Directory string
	OutputDir string
	Sources   []Source
	// Ignored holds entries that were skipped: subdirectories and files
	// with unsupported extensions.
	Ignored []string
	// Err is set when the directory itself was skipped.
	Err error
}

// Skipped reports whether the directory was not processed at all.
func (d DirectoryReport) Skipped() bool { return d.Err != nil }

// Report is the result of a whole run. Partial success is normal.
type Report struct {
	Directories []DirectoryReport
	Results     []ArtifactResult
	Started     time.Time
	Duration    time.Duration

	// errs receives directory errors during the scan and artifact errors
	// as tasks finish.
	errs *errors.ErrorCollector
}

func newReport() *Report {
	return &Report{Started: time.Now(), errs: errors.NewErrorCollector()}
}

// collector returns the run's collector, rebuilding it from Directories
// and Results for reports assembled by hand.
func (r *Report) collector() *errors.ErrorCollector {
	if r.errs != nil {
		return r.errs
	}
	ec := errors.NewErrorCollector()
	for _, d := range r.Directories {
		ec.AddError(d.Err)
	}
	for _, res := range r.Results {
		ec.AddError(res.Err)
	}
	return ec
}

func (r *Report) sort() {
	sort.Slice(r.Results, func(i, j int) bool {
		return r.Results[i].Artifact.OutputPath < r.Results[j].Artifact.OutputPath
	})
}

// Succeeded returns the results of written artifacts.
func (r *Report) Succeeded() []ArtifactResult {
	var out []ArtifactResult
	for _, res := range r.Results {
		if res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the results of artifacts that could not be produced.
func (r *Report) Failed() []ArtifactResult {
	var out []ArtifactResult
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Errors returns every error of the run: skipped directories first, then
// failed artifacts in completion order.
func (r *Report) Errors() []error {
	return r.collector().GetAllErrors()
}

// FailuresByCode counts the run's errors by PipelineError code. Errors
// without a code count under "".
func (r *Report) FailuresByCode() map[string]int {
	return r.collector().CountByCode()
}

// OutputPaths returns the sorted paths of written artifacts.
func (r *Report) OutputPaths() []string {
	var paths []string
	for _, res := range r.Succeeded() {
		paths = append(paths, res.Artifact.OutputPath)
	}
	sort.Strings(paths)
	return paths
}

// SourceCount is the number of source images found across directories.
func (r *Report) SourceCount() int {
	n := 0
	for _, d := range r.Directories {
		n += len(d.Sources)
	}
	return n
}

// WriteTable renders a per-directory summary.
func (r *Report) WriteTable(w io.Writer) {
	type counts struct{ ok, failed int }
	perDir := make(map[string]*counts)
	for _, res := range r.Results {
		c := perDir[res.Artifact.Source.Dir]
		if c == nil {
			c = &counts{}
			perDir[res.Artifact.Source.Dir] = c
		}
		if res.OK() {
			c.ok++
		} else {
			c.failed++
		}
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Directory", "Sources", "Written", "Failed", "Status"})

	var totalOK, totalFailed int
	for _, d := range r.Directories {
		status := "ok"
		var ok, failed int
		if c := perDir[d.Directory]; c != nil {
			ok, failed = c.ok, c.failed
		}
		switch {
		case d.Skipped():
			status = "skipped: " + d.Err.Error()
		case failed > 0:
			status = "partial"
		}
		totalOK += ok
		totalFailed += failed
		tw.AppendRow(table.Row{d.Directory, len(d.Sources), ok, failed, status})
	}
	tw.AppendFooter(table.Row{"Total", r.SourceCount(), totalOK, totalFailed, r.Duration.Round(time.Millisecond).String()})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	tw.Render()

	byCode := r.FailuresByCode()
	if len(byCode) == 0 {
		return
	}
	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	ew := table.NewWriter()
	ew.SetOutputMirror(w)
	ew.SetStyle(table.StyleRounded)
	ew.AppendHeader(table.Row{"Error", "Count"})
	for _, code := range codes {
		label := code
		if label == "" {
			label = "other"
		}
		ew.AppendRow(table.Row{label, byCode[code]})
	}
	ew.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	ew.Render()
}
