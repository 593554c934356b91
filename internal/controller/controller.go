package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/oui"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bnavetta/samwise/internal/agentclient"
	"github.com/bnavetta/samwise/internal/config"
	"github.com/bnavetta/samwise/internal/device"
	"github.com/bnavetta/samwise/internal/id"
	"github.com/bnavetta/samwise/internal/wol"
)

// Controller owns the startup and graceful-shutdown lifecycle: from
// loaded configuration it builds a Waker and one device.Manager per
// configured device, and serves HTTP until told to stop.
type Controller struct {
	cfg     *config.ControllerConfig
	log     *zap.Logger
	waker   *wol.Waker
	ouiDB   oui.StaticDB
	devices map[id.DeviceId]*device.Handle
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	httpSrv *http.Server
}

// Options configures a Controller beyond its TOML file.
type Options struct {
	// ListenAddress is the HTTP surface's bind address, e.g. ":8674".
	ListenAddress string
	// OUIDatabasePath optionally enables vendor-name log enrichment via
	// klauspost/oui. Empty disables the feature; a missing/unreadable
	// file disables it too rather than failing startup.
	OUIDatabasePath string
}

// New builds a Controller from loaded configuration and starts each
// device manager's background tasks. It does not bind any sockets;
// call Serve for that.
func New(cfg *config.ControllerConfig, opts Options, log *zap.Logger) *Controller {
	c := &Controller{
		cfg:     cfg,
		log:     log,
		waker:   wol.NewWaker(),
		devices: make(map[id.DeviceId]*device.Handle),
	}

	if opts.OUIDatabasePath != "" {
		db, err := oui.OpenStaticFile(opts.OUIDatabasePath)
		if err != nil {
			log.Warn("oui database unavailable, vendor annotation disabled",
				zap.String("path", opts.OUIDatabasePath), zap.Error(err))
		} else {
			c.ouiDB = db
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for name, devCfg := range cfg.Devices {
		deviceID := id.DeviceId(name)
		iface := cfg.InterfaceFor(devCfg)
		agent := agentclient.New(devCfg.Agent)

		mgr := device.NewManager(ctx, deviceID, devCfg, iface, cfg.TFTPDirectory, agent, c.waker, log.With(zap.String("device", name)))
		c.devices[deviceID] = mgr.Handle()

		c.logVendor(deviceID, devCfg)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			mgr.Run(ctx)
		}()
	}

	c.httpSrv = &http.Server{
		Addr:    opts.ListenAddress,
		Handler: NewServer(c.devices, log).Router(),
	}

	return c
}

func (c *Controller) logVendor(deviceID id.DeviceId, devCfg config.DeviceConfig) {
	if c.ouiDB == nil {
		return
	}
	mac, err := devCfg.HardwareAddr()
	if err != nil {
		return
	}
	entry, err := c.ouiDB.Query(mac.String())
	if err != nil {
		return
	}
	c.log.Info("resolved device vendor",
		zap.String("device", deviceID.String()),
		zap.String("vendor", entry.Manufacturer))
}

// Serve binds and serves HTTP until the server is shut down by Stop,
// returning nil if shutdown was clean.
func (c *Controller) Serve() error {
	c.log.Info("controller listening", zap.String("address", c.httpSrv.Addr))
	err := c.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop begins graceful shutdown: it stops accepting new HTTP
// connections, cancels every device manager's context (which closes
// their action queues and state broadcasts, letting both background
// tasks exit), and waits for all of them to finish.
func (c *Controller) Stop(ctx context.Context) error {
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 10*time.Second)
	defer cancelShutdown()

	err := c.httpSrv.Shutdown(shutdownCtx)

	c.cancel()
	c.wg.Wait()
	c.waker.Close()

	return err
}
