// Run-wide counters and timers. Every stage adds to one Statistics that the
// driver owns; nothing here is global.
package mbstats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// Statistics is safe for concurrent use, though the current run loop is sequential
type Statistics struct {
	mu               sync.Mutex
	successCount     int
	uncompressedSize int64
	compressedSize   int64
	exportTime       map[mbtypes.Kind]time.Duration
	archiveTime      time.Duration
	transmitTime     time.Duration
}

func New() *Statistics {
	return &Statistics{
		exportTime: map[mbtypes.Kind]time.Duration{},
	}
}

func (s *Statistics) AddExportTime(kind mbtypes.Kind, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportTime[kind] += elapsed
}

func (s *Statistics) AddUncompressed(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uncompressedSize += bytes
}

func (s *Statistics) AddArchiveTime(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveTime += elapsed
}

func (s *Statistics) AddCompressed(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressedSize += bytes
}

func (s *Statistics) AddTransmitTime(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transmitTime += elapsed
}

func (s *Statistics) Succeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount++
}

// ResetSuccesses zeroes the success count (a transmit failure poisons the whole run)
func (s *Statistics) ResetSuccesses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount = 0
}

// DeductSuccesses takes back successes that turned out not to reach their
// destination. Never goes below zero.
func (s *Statistics) DeductSuccesses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount -= n
	if s.successCount < 0 {
		s.successCount = 0
	}
}

func (s *Statistics) SuccessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successCount
}

// Summary is the once-per-run report
type Summary struct {
	Session          string
	Version          string
	TotalBackupJobs  int
	JobsByKind       map[mbtypes.Kind]int
	SuccessCount     int
	FailCount        int
	UncompressedSize int64
	CompressedSize   int64
	ExportTime       map[mbtypes.Kind]time.Duration
	ArchiveTime      time.Duration
	TransmitTime     time.Duration
	TotalTime        time.Duration
}

// Summarize snapshots the counters. jobs are the jobs the run attempted.
func (s *Statistics) Summarize(jobs []*mbtypes.BackupJob, totalTime time.Duration) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	exportTime := map[mbtypes.Kind]time.Duration{}
	for _, kind := range mbtypes.Kinds {
		exportTime[kind] = s.exportTime[kind]
	}

	return Summary{
		TotalBackupJobs:  len(jobs),
		JobsByKind:       mbtypes.CountByKind(jobs),
		SuccessCount:     s.successCount,
		FailCount:        len(jobs) - s.successCount,
		UncompressedSize: s.uncompressedSize,
		CompressedSize:   s.compressedSize,
		ExportTime:       exportTime,
		ArchiveTime:      s.archiveTime,
		TransmitTime:     s.transmitTime,
		TotalTime:        totalTime,
	}
}

// String renders the summary as one key=value log line
func (s Summary) String() string {
	fields := []string{
		fmt.Sprintf("BackupSession=%s", s.Session),
		fmt.Sprintf("Version=%s", s.Version),
		fmt.Sprintf("UncompressedSize=%d (%s)", s.UncompressedSize, humanize.IBytes(uint64(s.UncompressedSize))),
		fmt.Sprintf("CompressedSize=%d (%s)", s.CompressedSize, humanize.IBytes(uint64(s.CompressedSize))),
	}

	for _, kind := range mbtypes.Kinds {
		fields = append(fields, fmt.Sprintf("Export%sTimeMS=%d", kind.Label(), s.ExportTime[kind].Milliseconds()))
	}

	fields = append(fields,
		fmt.Sprintf("ZipTimeMS=%d", s.ArchiveTime.Milliseconds()),
		fmt.Sprintf("SyncTimeMS=%d", s.TransmitTime.Milliseconds()),
		fmt.Sprintf("TotalTimeMS=%d", s.TotalTime.Milliseconds()),
		fmt.Sprintf("TotalBackupJobs=%d", s.TotalBackupJobs))

	for _, kind := range mbtypes.Kinds {
		fields = append(fields, fmt.Sprintf("%sCount=%d", kind.Label(), s.JobsByKind[kind]))
	}

	fields = append(fields,
		fmt.Sprintf("BackupSuccessCount=%d", s.SuccessCount),
		fmt.Sprintf("BackupFailCount=%d", s.FailCount))

	return strings.Join(fields, " ")
}
