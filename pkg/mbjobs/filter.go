package mbjobs

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/function61/gokit/log/logex"

	"github.com/perjahn/multibackup/pkg/mbtypes"
	"github.com/perjahn/multibackup/pkg/redact"
)

// OnlyKind keeps jobs of one kind. The empty kind keeps everything.
func OnlyKind(jobs []*mbtypes.BackupJob, only mbtypes.Kind) []*mbtypes.BackupJob {
	if only == "" {
		return jobs
	}

	kept := []*mbtypes.BackupJob{}
	for _, job := range jobs {
		if job.Kind() == only {
			kept = append(kept, job)
		}
	}

	return kept
}

// LogJobs lists the jobs about to run. secrets appear only as hashes
func LogJobs(jobs []*mbtypes.BackupJob, logger *log.Logger) {
	logl := logex.Levels(logex.Prefix("jobs", logger))

	for _, job := range jobs {
		logl.Info.Printf(
			"Jobname=%s Jobtype=%s %s HashedZippassword=%s Tags=%s",
			job.Name,
			job.Kind().Label(),
			job.Source.Describe(),
			redact.Hash(job.ZipPassword),
			FormatTags(job.Tags))
	}

	counts := mbtypes.CountByKind(jobs)

	parts := []string{}
	for _, kind := range mbtypes.Kinds {
		parts = append(parts, fmt.Sprintf("%sCount=%d", kind.Label(), counts[kind]))
	}

	logl.Info.Printf("backup counts: %s TotalCount=%d", strings.Join(parts, " "), len(jobs))
}

// FormatTags renders tags as "k=v,k2=v2" sorted by key
func FormatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+tags[key])
	}

	return strings.Join(pairs, ",")
}
