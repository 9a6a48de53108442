package mbconfig

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/function61/gokit/encoding/jsonfile"
	"github.com/function61/gokit/os/osutil"
	"github.com/juju/errors"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

const (
	envConfKey = "MULTIBACKUP_CONF"

	DefaultAttempts        = 5
	DefaultCleanupAttempts = 10
)

// files tried in order when the config isn't given in the environment
var configFiles = []string{"appsettings.development.json", "appsettings.json"}

type TransmitFailurePolicy string

const (
	// any target group exhausting its attempts zeroes the run's success count
	PolicyResetRun TransmitFailurePolicy = "reset-run"
	// a failing target group subtracts only its own successful archives
	PolicyDeductGroup TransmitFailurePolicy = "deduct-group"
)

type Config struct {
	// defaults for jobs that don't override their target
	TargetServer   string `json:"target_server"`
	TargetAccount  string `json:"target_account"`
	TargetCertfile string `json:"target_certfile"`

	JobFiles   []string `json:"job_files"` // glob patterns
	ExportDir  string   `json:"export_dir"`
	StagingDir string   `json:"staging_dir"`
	ToolLogDir string   `json:"tool_log_dir"`
	CertDir    string   `json:"cert_dir"`

	Tools ToolsConfig `json:"tools"`
	Retry RetryConfig `json:"retry"`

	// zero means tool invocations may run forever
	ToolTimeout Duration `json:"tool_timeout,omitempty"`

	TransmitFailurePolicy TransmitFailurePolicy `json:"transmit_failure_policy"`

	PreBackupAction   *ActionConfig `json:"pre_backup_action,omitempty"`
	PostBackupAction  *ActionConfig `json:"post_backup_action,omitempty"`
	MetricsTextfile   string        `json:"metrics_textfile,omitempty"`
	LogFile           string        `json:"log_file,omitempty"`
	S3Region          string        `json:"s3_region,omitempty"`
	DeadMansSwitchUrl string        `json:"deadmansswitch_url,omitempty"`
	SchedulerHourUtc  int           `json:"scheduler_hour_utc"`
}

type ToolsConfig struct {
	SqlPackage string `json:"sqlpackage"`
	Mongodump  string `json:"mongodump"`
	Dt         string `json:"dt"`
	Azcopy     string `json:"azcopy"`
	SevenZip   string `json:"sevenzip"`
	Rsync      string `json:"rsync"`
	Ssh        string `json:"ssh"`
}

// ExporterFor returns the tool binary that exports the given kind
func (t ToolsConfig) ExporterFor(kind mbtypes.Kind) string {
	switch kind {
	case mbtypes.KindSqlServer:
		return t.SqlPackage
	case mbtypes.KindMongoDB:
		return t.Mongodump
	case mbtypes.KindCosmosDB:
		return t.Dt
	case mbtypes.KindAzureStorage:
		return t.Azcopy
	default:
		return ""
	}
}

// tools are run from other working directories (export dir, rsync's own
// folder), so a relative path must be resolved against ours now. bare names
// are left for $PATH lookup.
func (t *ToolsConfig) absolutize() {
	for _, binary := range []*string{&t.SqlPackage, &t.Mongodump, &t.Dt, &t.Azcopy, &t.SevenZip, &t.Rsync, &t.Ssh} {
		if *binary == "" || filepath.IsAbs(*binary) || !strings.ContainsAny(*binary, "/"+string(filepath.Separator)) {
			continue
		}

		if abs, err := filepath.Abs(*binary); err == nil {
			*binary = abs
		}
	}
}

type RetryConfig struct {
	ExportAttempts   int      `json:"export_attempts"`
	ExportDelay      Duration `json:"export_delay"`
	TransmitAttempts int      `json:"transmit_attempts"`
	TransmitDelay    Duration `json:"transmit_delay"`
	CleanupAttempts  int      `json:"cleanup_attempts"`
	CleanupDelay     Duration `json:"cleanup_delay"`
}

type ActionConfig struct {
	Binary string `json:"binary"`
	Args   string `json:"args"` // split shell-style
}

// DefaultTarget is the target jobs get unless they override it
func (c *Config) DefaultTarget() mbtypes.Target {
	return mbtypes.Target{
		Server:   c.TargetServer,
		Account:  c.TargetAccount,
		CertFile: c.TargetCertfile,
	}
}

// ReadFromEnvOrFile reads config from base64-encoded JSON in MULTIBACKUP_CONF, or the
// first config file that exists
func ReadFromEnvOrFile() (*Config, error) {
	conf := &Config{}

	confFromEnv, err := osutil.GetenvRequiredFromBase64(envConfKey)
	if err == nil {
		conf, err := Read(bytes.NewBuffer(confFromEnv))
		return conf, errors.Annotatef(err, "%s", envConfKey)
	}

	for _, configFile := range configFiles {
		if _, err := os.Stat(configFile); err != nil {
			continue
		}

		if err := jsonfile.ReadDisallowUnknownFields(configFile, conf); err != nil {
			return nil, errors.Annotatef(err, "%s", configFile)
		}

		return conf, conf.applyDefaultsAndValidate()
	}

	return nil, errors.NotFoundf("config (%s or %v)", envConfKey, configFiles)
}

// Read parses strictly, fills in defaults and validates
func Read(content io.Reader) (*Config, error) {
	conf := &Config{}

	if err := jsonfile.UnmarshalDisallowUnknownFields(content, conf); err != nil {
		return nil, err
	}

	if err := conf.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if len(c.JobFiles) == 0 {
		c.JobFiles = []string{"backupjobs*.json", "backupjobs*.yaml"}
	}
	if c.ExportDir == "" {
		c.ExportDir = "export"
	}
	if c.StagingDir == "" {
		c.StagingDir = "backups"
	}
	if c.ToolLogDir == "" {
		c.ToolLogDir = "logs"
	}
	if c.CertDir == "" {
		c.CertDir = "synccert"
	}
	if c.Tools.Ssh == "" {
		c.Tools.Ssh = "ssh"
	}
	c.Tools.absolutize()
	if c.TransmitFailurePolicy == "" {
		c.TransmitFailurePolicy = PolicyDeductGroup
	}

	r := &c.Retry
	if r.ExportAttempts == 0 {
		r.ExportAttempts = DefaultAttempts
	}
	if r.ExportDelay.Duration == 0 {
		r.ExportDelay.Duration = 1 * time.Second
	}
	if r.TransmitAttempts == 0 {
		r.TransmitAttempts = DefaultAttempts
	}
	if r.TransmitDelay.Duration == 0 {
		r.TransmitDelay.Duration = 1 * time.Second
	}
	if r.CleanupAttempts == 0 {
		r.CleanupAttempts = DefaultCleanupAttempts
	}
	if r.CleanupDelay.Duration == 0 {
		r.CleanupDelay.Duration = 2 * time.Second
	}
}

// Validate only checks what can be checked without knowing the jobs. Target
// defaults are optional as long as every job overrides what's missing.
func (c *Config) Validate() error {
	switch c.TransmitFailurePolicy {
	case PolicyResetRun, PolicyDeductGroup:
	default:
		return errors.NotValidf("transmit_failure_policy %q", c.TransmitFailurePolicy)
	}

	if c.Tools.SevenZip == "" {
		return errors.NotValidf("missing tools.sevenzip")
	}

	if c.SchedulerHourUtc < 0 || c.SchedulerHourUtc > 23 {
		return errors.NotValidf("scheduler_hour_utc %d", c.SchedulerHourUtc)
	}

	if c.Retry.ExportAttempts < 1 || c.Retry.TransmitAttempts < 1 || c.Retry.CleanupAttempts < 1 {
		return errors.NotValidf("retry attempts must be at least 1")
	}

	return nil
}

// CheckTools makes sure every binary the given kinds need is present. rsync
// is needed only when some target is not an object storage bucket.
func (c *Config) CheckTools(kinds []mbtypes.Kind, needRsync bool) error {
	binaries := []string{c.Tools.SevenZip}

	for _, kind := range kinds {
		binary := c.Tools.ExporterFor(kind)
		if binary == "" {
			return errors.NotValidf("missing export tool setting for %s", kind.Label())
		}

		binaries = append(binaries, binary)
	}

	if needRsync {
		if c.Tools.Rsync == "" {
			return errors.NotValidf("missing tools.rsync")
		}

		binaries = append(binaries, c.Tools.Rsync)
	}

	for _, binary := range binaries {
		if _, err := exec.LookPath(binary); err != nil {
			return errors.NotFoundf("tool %s", binary)
		}
	}

	return nil
}
