package mbtypes

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/perjahn/multibackup/pkg/redact"
)

// Source is the kind-specific part of a job. Implementations carry
// `validate:"required"` tags on the fields their kind needs.
type Source interface {
	Kind() Kind
	// loggable description. secrets appear only as hashes
	Describe() string
	Secrets() []string
	CompressionLevel() CompressionLevel
	Artifact() ArtifactType
	// extension of the export artifact, "" for directories
	Extension() string
	// arguments for the kind's export tool. toolLog is "" if ToolLog() is nil
	ExportArgs(exportPath string, toolLog string) []string
	ToolLog() *ToolLog
}

// ToolLog describes the log file an export tool writes next to its output
type ToolLog struct {
	// lines containing any of these are dropped before logging
	Noise []string
}

type SqlServer struct {
	ConnectionString string `json:"connectionstring" validate:"required"`
}

var _ Source = (*SqlServer)(nil)

func (s *SqlServer) Kind() Kind { return KindSqlServer }

func (s *SqlServer) Describe() string {
	return fmt.Sprintf("HashedConnectionString=%s", redact.Hash(s.ConnectionString))
}

func (s *SqlServer) Secrets() []string { return []string{s.ConnectionString} }

// bacpac is a zip file already
func (s *SqlServer) CompressionLevel() CompressionLevel { return CompressionStore }

func (s *SqlServer) Artifact() ArtifactType { return ArtifactFile }

func (s *SqlServer) Extension() string { return ".bacpac" }

func (s *SqlServer) ExportArgs(exportPath string, _ string) []string {
	return []string{
		"/a:Export",
		"/tf:" + exportPath,
		"/scs:" + s.ConnectionString,
	}
}

func (s *SqlServer) ToolLog() *ToolLog { return nil }

type MongoDB struct {
	ConnectionString string `json:"connectionstring" validate:"required"`
}

var _ Source = (*MongoDB)(nil)

func (m *MongoDB) Kind() Kind { return KindMongoDB }

func (m *MongoDB) Describe() string {
	return fmt.Sprintf("HashedConnectionString=%s", redact.Hash(m.ConnectionString))
}

func (m *MongoDB) Secrets() []string { return []string{m.ConnectionString} }

func (m *MongoDB) CompressionLevel() CompressionLevel { return CompressionMaximum }

func (m *MongoDB) Artifact() ArtifactType { return ArtifactDir }

func (m *MongoDB) Extension() string { return "" }

func (m *MongoDB) ExportArgs(exportPath string, _ string) []string {
	return []string{
		"--uri=" + m.ConnectionString,
		"--out=" + exportPath,
	}
}

func (m *MongoDB) ToolLog() *ToolLog { return nil }

type CosmosDB struct {
	ConnectionString string `json:"connectionstring" validate:"required"`
	Collection       string `json:"collection" validate:"required"`
}

var _ Source = (*CosmosDB)(nil)

func (c *CosmosDB) Kind() Kind { return KindCosmosDB }

func (c *CosmosDB) Describe() string {
	return fmt.Sprintf(
		"HashedConnectionString=%s HashedCollection=%s",
		redact.Hash(c.ConnectionString),
		redact.Hash(c.Collection))
}

func (c *CosmosDB) Secrets() []string { return []string{c.ConnectionString, c.Collection} }

func (c *CosmosDB) CompressionLevel() CompressionLevel { return CompressionMaximum }

func (c *CosmosDB) Artifact() ArtifactType { return ArtifactFile }

func (c *CosmosDB) Extension() string { return ".json" }

func (c *CosmosDB) ExportArgs(exportPath string, toolLog string) []string {
	return []string{
		"/ErrorLog:" + toolLog,
		"/ErrorDetails:All",
		"/s:DocumentDB",
		"/s.ConnectionString:" + c.ConnectionString,
		"/s.Collection:" + c.Collection,
		"/t:JsonFile",
		"/t.File:" + exportPath,
		"/t.Prettify",
	}
}

func (c *CosmosDB) ToolLog() *ToolLog { return &ToolLog{} }

type AzureStorage struct {
	Url string `json:"url" validate:"required"`
	Key string `json:"key" validate:"required"`
}

var _ Source = (*AzureStorage)(nil)

// account-level blob URLs need a recursive copy
var blobAccountUrlRe = regexp.MustCompile(`^https://[a-z0-9]+\.blob\.core\.windows\.net`)

func (a *AzureStorage) Kind() Kind { return KindAzureStorage }

func (a *AzureStorage) Describe() string {
	return fmt.Sprintf("HashedUrl=%s HashedKey=%s", redact.Hash(a.Url), redact.Hash(a.Key))
}

func (a *AzureStorage) Secrets() []string { return []string{a.Url, a.Key} }

func (a *AzureStorage) CompressionLevel() CompressionLevel { return CompressionMaximum }

func (a *AzureStorage) Artifact() ArtifactType { return ArtifactFreshDir }

func (a *AzureStorage) Extension() string { return "" }

// JournalDir is where the copy tool keeps its restart journal. It must not
// survive from an earlier attempt.
func (a *AzureStorage) JournalDir(exportPath string) string {
	base := filepath.Base(exportPath)
	return filepath.Join(filepath.Dir(exportPath), "journal_"+strings.TrimPrefix(base, string(KindAzureStorage)+"_"))
}

func (a *AzureStorage) ExportArgs(exportPath string, toolLog string) []string {
	args := []string{
		"/Source:" + a.Url,
		"/Dest:" + exportPath,
		"/SourceKey:" + a.Key,
		"/V:" + toolLog,
		"/Z:" + a.JournalDir(exportPath),
	}

	if blobAccountUrlRe.MatchString(a.Url) {
		args = append(args, "/S")
	}

	return args
}

func (a *AzureStorage) ToolLog() *ToolLog {
	return &ToolLog{
		Noise: []string{
			"][VERBOSE] Downloaded entities: ",
			"][VERBOSE] Start transfer: ",
			"][VERBOSE] Finished transfer: ",
		},
	}
}
