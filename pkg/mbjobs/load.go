// Reads job files into validated backup jobs. A bad entry is dropped with a
// logged reason; only "nothing valid at all" is fatal.
package mbjobs

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/function61/gokit/encoding/jsonfile"
	"github.com/function61/gokit/log/logex"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// DateFormat stamps export and archive file names
const DateFormat = "20060102_150405"

type Options struct {
	DefaultTarget mbtypes.Target
	ExportDir     string
	Date          string // see DateFormat
}

// Glob resolves job file patterns. Sorted, so the load order is stable.
func Glob(patterns []string) ([]string, error) {
	paths := []string{}
	seen := map[string]bool{}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Annotatef(err, "job file pattern %s", pattern)
		}

		sort.Strings(matches)

		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				paths = append(paths, match)
			}
		}
	}

	if len(paths) == 0 {
		return nil, errors.NotFoundf("job files matching %v", patterns)
	}

	return paths, nil
}

// Load reads job files in the given order
func Load(paths []string, opts Options, logger *log.Logger) ([]*mbtypes.BackupJob, error) {
	logl := logex.Levels(logex.Prefix("jobs", logger))

	docs := []namedDocument{}

	for _, path := range paths {
		logl.Info.Printf("reading: %s", path)

		content, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "job file %s", path)
		}

		doc, err := parseDocument(path, content)
		if err != nil {
			return nil, errors.Annotatef(err, "job file %s", path)
		}

		docs = append(docs, namedDocument{path, *doc})
	}

	jobs, err := validate(docs, opts, logl)
	if err != nil {
		return nil, err
	}

	logl.Info.Printf("found %d valid backup jobs", len(jobs))

	return jobs, nil
}

type namedDocument struct {
	name string
	doc  document
}

func parseDocument(path string, content []byte) (*document, error) {
	doc := &document{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, doc); err != nil {
			return nil, err
		}
	default:
		// unknown fields are fine; job files are shared with older versions
		if err := jsonfile.UnmarshalAllowUnknownFields(bytes.NewReader(content), doc); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

func validate(docs []namedDocument, opts Options, logl *logex.Leveled) ([]*mbtypes.BackupJob, error) {
	schema := newValidator()

	jobs := []*mbtypes.BackupJob{}
	accepted := map[string]string{} // job name => where it was defined

	for _, named := range docs {
		if len(named.doc.BackupJobs) == 0 {
			logl.Warn.Printf("no backupjobs in file: %s", named.name)
			continue
		}

		docTags := stringifyTags(named.doc.Tags)

		for idx, desc := range named.doc.BackupJobs {
			where := fmt.Sprintf("%s #%d", named.name, idx)

			drop := func(format string, args ...interface{}) {
				logl.Warn.Printf("ignoring backup job %s: %s", where, fmt.Sprintf(format, args...))
			}

			field, err := missingField(schema, desc)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if field != "" {
				drop("missing %s field", field)
				continue
			}

			kind, known := mbtypes.ParseKind(desc.Type)
			if !known {
				drop("(%s, %s) has unsupported backup type", desc.Type, desc.Name)
				continue
			}

			source := schemas[kind](desc)

			field, err = missingField(schema, source)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if field != "" {
				drop("(%s, %s) is missing %s field", kind, desc.Name, field)
				continue
			}

			if strings.ContainsAny(desc.Name, `/\`) || desc.Name == "." || desc.Name == ".." {
				drop("(%s, %s) name must not be a path", kind, desc.Name)
				continue
			}

			if first, dup := accepted[desc.Name]; dup {
				drop("(%s, %s) duplicate name of %s", kind, desc.Name, first)
				continue
			}

			target, err := resolveTarget(desc, opts.DefaultTarget)
			if err != nil {
				return nil, errors.Annotatef(err, "backup job %s (%s)", where, desc.Name)
			}

			accepted[desc.Name] = where

			jobs = append(jobs, newJob(desc, source, mergeTags(docTags, stringifyTags(desc.Tags)), target, opts))
		}
	}

	if len(jobs) == 0 {
		return nil, errors.NotValidf("job files: no valid backup jobs in any of %d files", len(docs))
	}

	return jobs, nil
}

// job-level tags win over document-level tags on key collision
func mergeTags(docTags map[string]string, jobTags map[string]string) map[string]string {
	merged := map[string]string{}
	for key, value := range docTags {
		merged[key] = value
	}
	for key, value := range jobTags {
		merged[key] = value
	}
	return merged
}

func resolveTarget(desc descriptor, defaults mbtypes.Target) (mbtypes.Target, error) {
	target := mbtypes.Target{
		Server:   firstNonEmpty(desc.TargetServer, defaults.Server),
		Account:  firstNonEmpty(desc.TargetAccount, defaults.Account),
		CertFile: firstNonEmpty(desc.TargetCertfile, defaults.CertFile),
	}

	switch {
	case target.Server == "":
		return target, errors.NotValidf("no targetserver and no default target_server")
	case target.Account == "":
		return target, errors.NotValidf("no targetaccount and no default target_account")
	case target.CertFile == "":
		return target, errors.NotValidf("no targetcertfile and no default target_certfile")
	}

	return target, nil
}

func newJob(
	desc descriptor,
	source mbtypes.Source,
	tags map[string]string,
	target mbtypes.Target,
	opts Options,
) *mbtypes.BackupJob {
	// <kind>_<name>_<date><ext>
	base := fmt.Sprintf("%s_%s_%s", source.Kind(), desc.Name, opts.Date)

	return &mbtypes.BackupJob{
		Name:        desc.Name,
		Source:      source,
		Tags:        tags,
		Target:      target,
		ExportPath:  filepath.Join(opts.ExportDir, base+source.Extension()),
		ArchivePath: filepath.Join(opts.ExportDir, base+".7z"),
		ZipPassword: desc.ZipPassword,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
