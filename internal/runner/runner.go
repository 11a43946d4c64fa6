package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/projectdiscovery/gologger"
	errorutil "github.com/projectdiscovery/utils/errors"

	"terminalscan/internal/devicectl"
	"terminalscan/internal/discovery"
	"terminalscan/internal/gui"
)

// Runner drives a headless scan or the web panel.
type Runner struct {
	options *Options
	manager *discovery.Manager

	printMu sync.Mutex
}

// New creates a runner probing the real network.
func New(options *Options) *Runner {
	return NewWithManager(options, discovery.NewManager())
}

// NewWithManager creates a runner around an existing manager.
func NewWithManager(options *Options, manager *discovery.Manager) *Runner {
	return &Runner{options: options, manager: manager}
}

// RunScan runs one session to completion, printing devices as batches settle.
func (r *Runner) RunScan(ctx context.Context) error {
	cfg, err := r.options.ScanConfig()
	if err != nil {
		return err
	}

	if _, err := r.manager.Start(ctx, cfg, r.printUpdate, r.logStatus); err != nil {
		return err
	}
	if err := r.manager.Wait(ctx); err != nil {
		// the session shares ctx; let in-flight probes drain
		_ = r.manager.Wait(context.Background())
	}

	snapshot := r.manager.GetSnapshot()
	switch snapshot.Progress.Status {
	case discovery.StatusFailed:
		return fmt.Errorf("%s", snapshot.Progress.Message)
	case discovery.StatusCancelled:
		gologger.Warning().Msgf("scan interrupted, keeping %d device(s) found so far", len(snapshot.Devices))
	}

	if r.options.Output != "" {
		if err := r.writeExport(snapshot); err != nil {
			return err
		}
		gologger.Info().Msgf("export written to %s", r.options.Output)
	}
	return nil
}

// Serve runs the web panel until ctx is done.
func (r *Runner) Serve(ctx context.Context) error {
	app := gui.NewWithDeps(r.manager, devicectl.NewPool(devicectl.Options{}))
	return app.Run(ctx, r.options.Listen, !r.options.NoBrowser)
}

func (r *Runner) writeExport(snapshot discovery.Snapshot) error {
	file, err := os.Create(r.options.Output)
	if err != nil {
		return errorutil.NewWithErr(err).Msgf("could not create output file %s", r.options.Output)
	}
	defer file.Close()
	return discovery.Save(file, snapshot)
}

func (r *Runner) printUpdate(update discovery.Update) {
	r.printMu.Lock()
	defer r.printMu.Unlock()
	for _, device := range update.Devices {
		if r.options.JSON {
			data, err := json.Marshal(device)
			if err != nil {
				continue
			}
			gologger.Silent().Msgf("%s", data)
			continue
		}
		gologger.Silent().Msgf("%s", formatDevice(device))
	}
}

func (r *Runner) logStatus(progress discovery.Progress) {
	gologger.Verbose().Msgf("%s: %d%% (%d/%d addresses, %d found)", progress.Status, progress.Percent, progress.Processed, progress.Total, progress.Found)
	if progress.Status == discovery.StatusCompleted {
		gologger.Info().Msgf("%s", progress.Message)
	}
}

func formatDevice(device discovery.Device) string {
	if device.Classification == discovery.ClassRecognized {
		return fmt.Sprintf("%s [%s] [%s]", device.Address, au.Green(device.DisplayName), au.Cyan("fw "+device.FirmwareVersion))
	}
	return fmt.Sprintf("%s [%s]", device.Address, au.Yellow(device.TypeTag))
}
