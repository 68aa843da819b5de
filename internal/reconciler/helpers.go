package reconciler

import (
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/assemble"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/audit"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/config"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/metrics"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/storage"
)

// primaryTable names the interval table in manifests.
const primaryTable = "fast"

// buildManifest creates a Manifest from a BuiltInterval.
func buildManifest(cfg *config.Config, runID string, b *BuiltInterval) *storage.Manifest {
	sites := make(map[string]storage.SiteInfo, len(b.Job.Sites))
	for _, res := range b.Job.Sites {
		sites[res.Site] = siteInfo(cfg, b.Job, res)
	}

	return &storage.Manifest{
		Interval: storage.IntervalInfo{
			Start:    b.Ref.Start,
			End:      b.Ref.Start.Add(b.Ref.Duration),
			NRecords: cfg.NRecords(),
			AcqFreq:  cfg.Run.AcqFreq,
		},
		Sites: sites,
		Tables: map[string]storage.TableInfo{
			primaryTable: {
				File:     b.Ref.Name() + ".parquet",
				Checksum: b.Output.Checksum,
				RowCount: b.Output.RowCount,
				ByteSize: b.Output.ByteSize(),
			},
		},
		Producer: storage.ProducerInfo{
			Name:    "fast-flux",
			Version: Version,
			GitSHA:  GitSHA,
		},
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
}

// buildAuditEvent describes a committed interval for the audit trail.
func buildAuditEvent(runID, prefix string, b *BuiltInterval) *audit.Event {
	sites := make(map[string]audit.SiteInfo, len(b.Job.Sites))
	for _, res := range b.Job.Sites {
		sites[res.Site] = audit.SiteInfo{Files: len(res.Files), Placeholder: res.Placeholder}
	}
	return &audit.Event{
		Interval: audit.IntervalInfo{
			Start:    b.Ref.Start,
			End:      b.Ref.Start.Add(b.Ref.Duration),
			NRecords: int(b.Output.RowCount),
			RunID:    runID,
		},
		Tables: map[string]audit.TableInfo{
			primaryTable: {
				Checksum:    b.Output.Checksum,
				RowCount:    b.Output.RowCount,
				StoragePath: b.Ref.Path(prefix),
				ByteSize:    b.Output.ByteSize(),
			},
		},
		Sites: sites,
		Producer: audit.ProducerInfo{
			Name:    "fast-flux",
			Version: Version,
			GitSHA:  GitSHA,
		},
	}
}

// siteInfo describes one site's contribution. Logger identity comes from the
// site config and falls back to the TOA5 environment line of the first file.
func siteInfo(cfg *config.Config, job *IntervalJob, res *assemble.Result) storage.SiteInfo {
	st := job.Stats[res.Site]
	info := storage.SiteInfo{
		Files:       make([]string, len(res.Files)),
		Rule:        res.Rule,
		Placeholder: res.Placeholder,
		Maintenance: res.Maintenance,
		RowsMatched: st.Matched,
		Duplicates:  st.Duplicates,
		OffAxis:     st.OffAxis,
	}
	for i, f := range res.Files {
		info.Files[i] = f.Path
	}

	sc, ok := cfg.Site(res.Site)
	if ok {
		info.LoggerModel = sc.Logger.Model
		info.LoggerSerial = sc.Logger.Serial
		for _, in := range sc.Instruments {
			info.Instruments = append(info.Instruments, storage.InstrumentInfo{
				Family: string(in.Family),
				Model:  in.Model,
				Serial: in.Serial,
				Height: in.Height,
			})
		}
	}
	if len(res.Records) > 0 {
		h := res.Records[0].Header
		if info.LoggerModel == "" {
			info.LoggerModel = h.LoggerModel()
		}
		if info.LoggerSerial == "" {
			info.LoggerSerial = h.LoggerSerial()
		}
	}
	return info
}

// siteStats converts a site's assembly and merge outcome for metrics.
func siteStats(job *IntervalJob, res *assemble.Result) metrics.SiteStats {
	st := job.Stats[res.Site]
	return metrics.SiteStats{
		Site:        res.Site,
		Files:       len(res.Files),
		Placeholder: res.Placeholder,
		Maintenance: res.Maintenance,
		Matched:     st.Matched,
		Duplicates:  st.Duplicates,
		OffAxis:     st.OffAxis,
	}
}
