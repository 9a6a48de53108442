package mbtypes

import (
	"strings"
)

// Kind names the kind of data source a job backs up. The set is closed.
type Kind string

const (
	KindSqlServer    Kind = "sqlserver"    // relational database
	KindMongoDB      Kind = "mongodb"      // document store
	KindCosmosDB     Kind = "cosmosdb"     // wide-column document database
	KindAzureStorage Kind = "azurestorage" // blob storage
)

// Kinds lists every supported kind in reporting order
var Kinds = []Kind{KindSqlServer, KindCosmosDB, KindMongoDB, KindAzureStorage}

// ParseKind is case insensitive. ok is false for kinds we don't know about.
func ParseKind(s string) (Kind, bool) {
	kind := Kind(strings.ToLower(s))
	for _, known := range Kinds {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}

// Label is the human readable name used in logs and summaries
func (k Kind) Label() string {
	switch k {
	case KindSqlServer:
		return "SqlServer"
	case KindCosmosDB:
		return "CosmosDB"
	case KindMongoDB:
		return "MongoDB"
	case KindAzureStorage:
		return "AzureStorage"
	default:
		return string(k)
	}
}

type CompressionLevel int

const (
	CompressionStore   CompressionLevel = 0 // no compression, for already packed formats
	CompressionMaximum CompressionLevel = 9
)

type ArtifactType int

const (
	ArtifactFile ArtifactType = iota
	ArtifactDir
	// directory that is deleted and created again before every export attempt
	ArtifactFreshDir
)

func (a ArtifactType) IsDir() bool {
	return a == ArtifactDir || a == ArtifactFreshDir
}

// Target is where the archive of a job gets sent. Comparable, so usable as a
// map key for grouping jobs by destination.
type Target struct {
	Server   string
	Account  string
	CertFile string
}

type BackupJob struct {
	Name        string
	Source      Source
	Tags        map[string]string
	Target      Target
	ExportPath  string // file or directory, depending on Source.Artifact()
	ArchivePath string
	ZipPassword string
}

func (b *BackupJob) Kind() Kind {
	return b.Source.Kind()
}

// Secrets returns every value that must be masked whenever something about
// this job is logged
func (b *BackupJob) Secrets() []string {
	return append(b.Source.Secrets(), b.ZipPassword)
}

// TargetGroup is jobs sharing one destination. They're transmitted together.
type TargetGroup struct {
	Target Target
	Jobs   []*BackupJob
}

// GroupByTarget keeps groups in order of first appearance, and jobs in their
// original order inside each group
func GroupByTarget(jobs []*BackupJob) []TargetGroup {
	groups := []TargetGroup{}
	idx := map[Target]int{}

	for _, job := range jobs {
		i, found := idx[job.Target]
		if !found {
			i = len(groups)
			idx[job.Target] = i
			groups = append(groups, TargetGroup{Target: job.Target})
		}

		groups[i].Jobs = append(groups[i].Jobs, job)
	}

	return groups
}

// CountByKind has an entry for every known kind, even if zero
func CountByKind(jobs []*BackupJob) map[Kind]int {
	counts := map[Kind]int{}
	for _, kind := range Kinds {
		counts[kind] = 0
	}

	for _, job := range jobs {
		counts[job.Kind()]++
	}

	return counts
}
