package core

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/config"
	"github.com/inkfeed/inkfeed/internal/escpos"
	"github.com/inkfeed/inkfeed/internal/raster"
	"github.com/inkfeed/inkfeed/internal/render"
	"github.com/inkfeed/inkfeed/internal/transport"
)

// processJob runs one job through the full pipeline: connect, render,
// quantize, encode, write. The settings in effect when the job starts apply
// to the whole job, even if reconfigured mid-print.
func (o *Orchestrator) processJob(job *Job) {
	ctx := context.Background()

	o.mu.Lock()
	status := job.Status
	snapshot := o.cfg
	o.mu.Unlock()

	// Canceled while waiting in the queue.
	if status != JobStatusQueued {
		return
	}

	o.transition(ctx, job, JobStatusPrinting, "")
	o.logger.Info("printing job",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("title", job.Title))

	link, err := o.ensureLink(ctx, snapshot)
	if err != nil {
		o.finishJob(ctx, job, JobStatusFailed, fmt.Sprintf("failed to connect to printer: %v", err))
		return
	}

	if err := o.printJob(ctx, job, link, snapshot); err != nil {
		if isCanceled(job) {
			o.finishJob(ctx, job, JobStatusCanceled, "")
		} else {
			o.dropLink(link)
			o.finishJob(ctx, job, JobStatusFailed, err.Error())
		}
		return
	}

	o.releasePending(ctx, job)
	o.finishJob(ctx, job, JobStatusCompleted, "")
}

func isCanceled(job *Job) bool {
	select {
	case <-job.canceled:
		return true
	default:
		return false
	}
}

// ensureLink returns a connected link for the snapshot's endpoint, reusing
// the cached one when it still matches.
func (o *Orchestrator) ensureLink(ctx context.Context, cfg config.PrinterConfig) (transport.Link, error) {
	if cfg.Address == "" {
		return nil, ErrNoEndpoint
	}

	o.mu.Lock()
	link := o.link
	addr := o.linkAddr
	o.mu.Unlock()

	if link != nil && addr == cfg.Address && link.Connected() {
		return link, nil
	}
	if link != nil {
		link.Disconnect()
	}

	link = o.newLink(cfg, o.logger)
	link.SetDisconnectHandler(func(err error) {
		o.logger.Warn("printer link lost", zap.Error(err))
		o.mu.Lock()
		if o.link == link {
			o.link = nil
			o.linkAddr = ""
		}
		o.mu.Unlock()
		o.notifier.PrinterEvent(false)
	})

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := link.Connect(connectCtx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.link = link
	o.linkAddr = cfg.Address
	o.mu.Unlock()
	o.notifier.PrinterEvent(true)
	return link, nil
}

func (o *Orchestrator) dropLink(link transport.Link) {
	o.mu.Lock()
	if o.link == link {
		o.link = nil
		o.linkAddr = ""
	}
	o.mu.Unlock()
	link.Disconnect()
	o.notifier.PrinterEvent(false)
}

func (o *Orchestrator) printJob(ctx context.Context, job *Job, link transport.Link, cfg config.PrinterConfig) error {
	switch job.Kind {
	case JobKindRaw:
		o.setPages(ctx, job, 1, 0)
		if err := o.write(ctx, link, cfg, job.raw); err != nil {
			return err
		}
		o.setPages(ctx, job, 1, 1)
		return nil
	case JobKindText:
		return o.printText(ctx, job, link, cfg)
	case JobKindDocument:
		img, _, err := image.Decode(bytes.NewReader(job.raw))
		if err != nil {
			return fmt.Errorf("failed to decode document: %w", err)
		}
		return o.printPages(ctx, job, link, cfg, render.NewImageDocument(img))
	case JobKindSelfTest:
		return o.printPages(ctx, job, link, cfg, render.NewSelfTestPage(job.text))
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (o *Orchestrator) printText(ctx context.Context, job *Job, link transport.Link, cfg config.PrinterConfig) error {
	o.setPages(ctx, job, 1, 0)

	b := escpos.NewBuilder(escpos.ParseEncoding(cfg.Encoding)).
		Init().
		Density(cfg.Density).
		Align(escpos.AlignLeft)
	for _, line := range strings.Split(job.text, "\n") {
		b.Text(line).Newline()
	}
	b.Feed(cfg.FeedLines)
	if cfg.AutoCut {
		b.Cut(escpos.CutFull)
	}
	buf, err := b.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode text job: %w", err)
	}

	if err := o.write(ctx, link, cfg, buf); err != nil {
		return err
	}
	o.setPages(ctx, job, 1, 1)
	return nil
}

// printPages walks a renderer page by page. Each page is rastered and
// written as its own unit so cancellation lands on a page boundary; a cut
// separates pages, and the trailing feed plus cut closes the job.
func (o *Orchestrator) printPages(ctx context.Context, job *Job, link transport.Link, cfg config.PrinterConfig, doc render.PageRenderer) error {
	total := doc.PageCount()
	o.setPages(ctx, job, total, 0)
	dots := cfg.DotsPerLine()
	encoding := escpos.ParseEncoding(cfg.Encoding)

	preamble, err := escpos.NewBuilder(encoding).Init().Density(cfg.Density).Encode()
	if err != nil {
		return fmt.Errorf("failed to encode preamble: %w", err)
	}
	if err := o.write(ctx, link, cfg, preamble); err != nil {
		return err
	}

	for page := 0; page < total; page++ {
		if isCanceled(job) {
			return fmt.Errorf("job canceled")
		}

		img, err := doc.RenderPage(ctx, page, dots)
		if err != nil {
			return fmt.Errorf("failed to render page %d: %w", page+1, err)
		}
		bitmap, err := raster.Quantize(img)
		if err != nil {
			return fmt.Errorf("failed to quantize page %d: %w", page+1, err)
		}

		b := escpos.NewBuilder(encoding).Raster(bitmap)
		if cfg.AutoCut && page < total-1 {
			b.Feed(1).Cut(escpos.CutFull)
		}
		buf, err := b.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode page %d: %w", page+1, err)
		}
		if err := o.write(ctx, link, cfg, buf); err != nil {
			return fmt.Errorf("failed to write page %d: %w", page+1, err)
		}
		o.setPages(ctx, job, total, page+1)

		if page < total-1 && o.queueCfg.PageDelay > 0 {
			select {
			case <-time.After(o.queueCfg.PageDelay):
			case <-job.canceled:
				return fmt.Errorf("job canceled")
			}
		}
	}

	b := escpos.NewBuilder(encoding).Feed(cfg.FeedLines)
	if cfg.AutoCut {
		b.Cut(escpos.CutFull)
	}
	trailer, err := b.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode trailer: %w", err)
	}
	return o.write(ctx, link, cfg, trailer)
}

func (o *Orchestrator) write(ctx context.Context, link transport.Link, cfg config.PrinterConfig, buf []byte) error {
	writeCtx := ctx
	if cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, cfg.WriteTimeout)
		defer cancel()
	}
	return link.Write(writeCtx, buf)
}

func (o *Orchestrator) setPages(ctx context.Context, job *Job, total, printed int) {
	o.mu.Lock()
	job.PagesTotal = total
	job.PagesPrinted = printed
	o.mu.Unlock()
	o.updateRecord(ctx, job)
}
