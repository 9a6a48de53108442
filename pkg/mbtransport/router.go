package mbtransport

import (
	"context"

	"github.com/juju/errors"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// Router picks the transport by the target server: "s3://..." goes to the
// object store, anything else is an ssh host. Either may be nil if unused.
type Router struct {
	rsync Transport
	s3    Transport
}

func NewRouter(rsync Transport, s3 Transport) *Router {
	return &Router{rsync, s3}
}

var _ Transport = (*Router)(nil)

func (r *Router) Transmit(ctx context.Context, sourceDir string, target mbtypes.Target) error {
	transport := r.rsync
	if IsS3(target.Server) {
		transport = r.s3
	}

	if transport == nil {
		return errors.NotSupportedf("transport for target server")
	}

	return transport.Transmit(ctx, sourceDir, target)
}

// NeedsRsync is true if any target is an ssh host
func NeedsRsync(jobs []*mbtypes.BackupJob) bool {
	for _, job := range jobs {
		if !IsS3(job.Target.Server) {
			return true
		}
	}
	return false
}
