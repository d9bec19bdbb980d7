package errors

import (
	"errors"
	"sort"
	"sync"
)

// ErrorCollector gathers errors from concurrently running tasks.
type ErrorCollector struct {
	errors []error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{errors: make([]error, 0)}
}

// AddError adds an error; nil is ignored.
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetAllErrors returns a copy of the collected errors.
func (ec *ErrorCollector) GetAllErrors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Len returns the number of collected errors.
func (ec *ErrorCollector) Len() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors)
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = ec.errors[:0]
}

// CountByCode groups errors by the code of the PipelineError they wrap.
// Other errors count under "".
func (ec *ErrorCollector) CountByCode() map[string]int {
	counts := make(map[string]int)
	for _, err := range ec.GetAllErrors() {
		var code string
		var pe *PipelineError
		if errors.As(err, &pe) {
			code = pe.Code
		}
		counts[code]++
	}
	return counts
}

// Paths returns the sorted, de-duplicated file paths of collected errors.
func (ec *ErrorCollector) Paths() []string {
	seen := make(map[string]struct{})
	for _, err := range ec.GetAllErrors() {
		var pe *PipelineError
		if errors.As(err, &pe) && pe.FilePath != "" {
			seen[pe.FilePath] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
