// Package jobs declares the built-in batch jobs and looks them up by name.
package jobs

import (
	"errors"
	"fmt"
	"sort"

	"cardbatch/internal/job"
)

var ErrUnknownJob = errors.New("unknown job")

var registry = map[string]func() *job.Definition{
	"refund-aging": refundAging,
	"gl-postings":  glPostings,
}

// Lookup returns a fresh definition of the named job
func Lookup(name string) (*job.Definition, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return build(), nil
}

// Names lists the registered jobs in alphabetical order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
