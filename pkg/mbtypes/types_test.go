package mbtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKind(t *testing.T) {
	kind, ok := ParseKind("SqlServer")
	assert.True(t, ok)
	assert.Equal(t, KindSqlServer, kind)

	_, ok = ParseKind("oracle")
	assert.False(t, ok)
}

func TestCompressionLevelByKind(t *testing.T) {
	assert.Equal(t, CompressionStore, (&SqlServer{}).CompressionLevel())
	assert.Equal(t, CompressionMaximum, (&MongoDB{}).CompressionLevel())
	assert.Equal(t, CompressionMaximum, (&CosmosDB{}).CompressionLevel())
	assert.Equal(t, CompressionMaximum, (&AzureStorage{}).CompressionLevel())
}

func TestAzureStorageRecursiveOnlyForAccountUrls(t *testing.T) {
	account := &AzureStorage{Url: "https://acme01.blob.core.windows.net/", Key: "k"}
	assert.Contains(t, account.ExportArgs("/x/azurestorage_a_1", "/logs/a.log"), "/S")
	assert.Equal(t, "/x/journal_a_1", account.JournalDir("/x/azurestorage_a_1"))

	table := &AzureStorage{Url: "https://acme01.table.core.windows.net/t", Key: "k"}
	assert.NotContains(t, table.ExportArgs("/x/azurestorage_a_1", "/logs/a.log"), "/S")
}

func TestDescribeDoesNotLeakSecrets(t *testing.T) {
	src := &CosmosDB{ConnectionString: "AccountKey=topsecret", Collection: "orders"}

	assert.NotContains(t, src.Describe(), "topsecret")
	assert.NotContains(t, src.Describe(), "orders")
}

func TestGroupByTarget(t *testing.T) {
	a := Target{Server: "a", Account: "x", CertFile: "c"}
	b := Target{Server: "b", Account: "x", CertFile: "c"}

	j1 := &BackupJob{Name: "1", Target: b}
	j2 := &BackupJob{Name: "2", Target: a}
	j3 := &BackupJob{Name: "3", Target: b}

	groups := GroupByTarget([]*BackupJob{j1, j2, j3})

	assert.Len(t, groups, 2)
	assert.Equal(t, b, groups[0].Target)
	assert.Equal(t, []*BackupJob{j1, j3}, groups[0].Jobs)
	assert.Equal(t, a, groups[1].Target)
	assert.Equal(t, []*BackupJob{j2}, groups[1].Jobs)
}

func TestCountByKind(t *testing.T) {
	counts := CountByKind([]*BackupJob{
		{Source: &AzureStorage{}},
		{Source: &AzureStorage{}},
	})

	assert.Equal(t, map[Kind]int{
		KindSqlServer:    0,
		KindCosmosDB:     0,
		KindMongoDB:      0,
		KindAzureStorage: 2,
	}, counts)
}
