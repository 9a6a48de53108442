package mbstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

var nowUnix = func() int64 { return time.Now().Unix() }

// WriteTextfile writes the summary in Prometheus text format, for node_exporter's
// textfile collector to pick up
func WriteTextfile(path string, summary Summary) error {
	registry := prometheus.NewRegistry()

	gauge := func(name string, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multibackup",
			Name:      name,
			Help:      help,
		})
		g.Set(value)
		registry.MustRegister(g)
	}

	gauge("last_run_timestamp_seconds", "When the last run finished", float64(nowUnix()))
	gauge("jobs_total", "Backup jobs attempted in the last run", float64(summary.TotalBackupJobs))
	gauge("jobs_succeeded", "Backup jobs that succeeded in the last run", float64(summary.SuccessCount))
	gauge("jobs_failed", "Backup jobs that failed in the last run", float64(summary.FailCount))
	gauge("uncompressed_bytes", "Exported bytes before compression", float64(summary.UncompressedSize))
	gauge("compressed_bytes", "Archived bytes after compression", float64(summary.CompressedSize))
	gauge("archive_seconds", "Time spent archiving", summary.ArchiveTime.Seconds())
	gauge("transmit_seconds", "Time spent transmitting", summary.TransmitTime.Seconds())
	gauge("run_seconds", "Wall clock time of the last run", summary.TotalTime.Seconds())

	exportSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "multibackup",
		Name:      "export_seconds",
		Help:      "Time spent exporting, by source kind",
	}, []string{"kind"})
	jobsByKind := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "multibackup",
		Name:      "jobs_by_kind",
		Help:      "Backup jobs attempted in the last run, by source kind",
	}, []string{"kind"})

	for _, kind := range mbtypes.Kinds {
		exportSeconds.WithLabelValues(string(kind)).Set(summary.ExportTime[kind].Seconds())
		jobsByKind.WithLabelValues(string(kind)).Set(float64(summary.JobsByKind[kind]))
	}

	registry.MustRegister(exportSeconds, jobsByKind)

	return prometheus.WriteToTextfile(path, registry)
}
