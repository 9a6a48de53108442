package mbconfig

import (
	"time"

	"github.com/aws/aws-sdk-go/aws/endpoints"
)

func DefaultConfig(kitchenSink bool) *Config {
	conf := &Config{
		TargetServer:   "backup.example.com",
		TargetAccount:  "backup",
		TargetCertfile: "rsync_id_rsa.txt",
		Tools: ToolsConfig{
			SqlPackage: "/opt/multibackup/sqlpackage/sqlpackage",
			Mongodump:  "/usr/bin/mongodump",
			Dt:         "/opt/multibackup/dt/dt",
			Azcopy:     "/opt/multibackup/azcopy/azcopy",
			SevenZip:   "/usr/bin/7z",
			Rsync:      "/usr/bin/rsync",
		},
		S3Region:         endpoints.UsEast1RegionID,
		SchedulerHourUtc: 1,
	}

	if kitchenSink {
		conf.ToolTimeout = Duration{6 * time.Hour}
		conf.TransmitFailurePolicy = PolicyResetRun
		conf.PreBackupAction = &ActionConfig{
			Binary: "/usr/local/bin/notify",
			Args:   "--message 'backup starting'",
		}
		conf.PostBackupAction = &ActionConfig{
			Binary: "/usr/local/bin/notify",
			Args:   "--message 'backup finished'",
		}
		conf.MetricsTextfile = "/var/lib/node_exporter/textfile/multibackup.prom"
		conf.LogFile = "/var/log/multibackup/multibackup.log"
		conf.DeadMansSwitchUrl = "https://example.com/url-to-my/alertmanager/deadmansswitch/checkin"
	}

	conf.applyDefaults()

	return conf
}
