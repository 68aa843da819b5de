package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/diag"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/metadata"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/schema"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/source"
)

// Site is the assembler's state for one site. The queue and metadata table
// are owned by the run loop and mutated here.
type Site struct {
	Name     string
	Registry diag.Registry
	Loader   source.Loader
	Queue    *Queue
	Table    *metadata.Table
}

// Result is one site's assembled frame for one interval.
type Result struct {
	Site        string
	Frame       *frame.Frame
	Files       []source.RawFile
	Records     []metadata.FileRecord
	Placeholder bool
	Maintenance bool
	Rule        string
}

// Assembler loads, decodes and harmonizes the raw files of an interval.
type Assembler struct {
	harmonizer  *schema.Harmonizer
	parallelism int
	log         *slog.Logger
}

// New creates an assembler. parallelism bounds concurrent file loads within
// one interval; values below 1 mean sequential.
func New(h *schema.Harmonizer, parallelism int) *Assembler {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Assembler{
		harmonizer:  h,
		parallelism: parallelism,
		log:         slog.With("component", "assembler"),
	}
}

type loaded struct {
	frame       *frame.Frame
	header      source.Header
	maintenance bool
}

// Assemble pops the site's files with timestamps before start+d, loads them
// in parallel, decodes diagnostics, harmonizes each with its own timestamp
// and concatenates them in pop order. With no usable files, or when start
// itself falls under a maintenance rule, the result is the site placeholder.
// One metadata record per popped file is appended to the site table.
func (a *Assembler) Assemble(ctx context.Context, site *Site, start time.Time, d time.Duration, outputPath string) (*Result, error) {
	files, err := site.Queue.PopBefore(start.Add(d))
	if err != nil {
		return nil, err
	}

	rule, err := a.harmonizer.Rule(site.Name, start)
	if err != nil {
		return nil, err
	}

	loads, err := a.load(ctx, site, files)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Site:        site.Name,
		Files:       files,
		Maintenance: rule.Maintenance,
		Rule:        rule.ID,
	}
	for i, f := range files {
		rec := metadata.FileRecord{
			Site:           site.Name,
			OutputInterval: start,
			OutputPath:     outputPath,
			FileTimestamp:  f.Timestamp,
			FilePath:       f.Path,
			Header:         loads[i].header,
		}
		site.Table.Append(rec)
		res.Records = append(res.Records, rec)
	}

	var frames []*frame.Frame
	if !rule.Maintenance {
		for _, l := range loads {
			if !l.maintenance {
				frames = append(frames, l.frame)
			}
		}
	}

	if len(frames) == 0 {
		ph, err := a.harmonizer.Placeholder(site.Name, start)
		if err != nil {
			return nil, err
		}
		res.Frame = ph
		res.Placeholder = true
		a.log.Debug("placeholder frame",
			"site", site.Name,
			"interval", start,
			"files", len(files),
			"maintenance", rule.Maintenance,
		)
		return res, nil
	}

	res.Frame, err = frame.Concat(frames...)
	if err != nil {
		return nil, fmt.Errorf("site %s: concat: %w", site.Name, err)
	}
	return res, nil
}

// load reads, decodes and harmonizes files concurrently. Results keep the
// order of files.
func (a *Assembler) load(ctx context.Context, site *Site, files []source.RawFile) ([]loaded, error) {
	out := make([]loaded, len(files))
	if len(files) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)

	for i, f := range files {
		g.Go(func() error {
			raw, header, err := site.Loader.Load(gctx, f)
			if err != nil {
				return fmt.Errorf("site %s: load %s: %w", site.Name, f.Path, err)
			}
			if _, err := diag.Decode(raw, site.Registry); err != nil {
				return fmt.Errorf("site %s: decode %s: %w", site.Name, f.Path, err)
			}
			rule, err := a.harmonizer.Rule(site.Name, f.Timestamp)
			if err != nil {
				return err
			}
			harmonized, err := a.harmonizer.Harmonize(site.Name, f.Timestamp, raw)
			if err != nil {
				return fmt.Errorf("site %s: harmonize %s: %w", site.Name, f.Path, err)
			}
			out[i] = loaded{frame: harmonized, header: header, maintenance: rule.Maintenance}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
