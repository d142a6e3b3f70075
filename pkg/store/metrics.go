package store

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dialogd_store_ops_total",
	Help: "Context store operations by operation and result.",
}, []string{"op", "result"})

func observeOp(op, result string) {
	opsTotal.WithLabelValues(op, result).Inc()
}

// DiskUsage returns the best-effort on-disk size of the database
// directory in bytes.
func (s *Store) DiskUsage() int64 {
	if s.path == "" {
		return 0
	}
	var total int64
	_ = filepath.WalkDir(s.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
