// Package earbud assembles one bud: its message loop, pipeline
// orchestrator, one synchronization engine per feature, the peer channel
// and the persistent store.
//
// Methods whose names start with an upper-case verb and take a context are
// safe from any goroutine; they run on the device loop through Call.
// Accessors returning internal components are for code already running on
// the loop, and for tests driving a manual clock.
package earbud

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/featsync"
	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/kv"
	"github.com/haivivi/twinbud/pkg/peer"
	"github.com/haivivi/twinbud/pkg/pipeline"
	"github.com/haivivi/twinbud/pkg/sched"
)

var (
	keyProdTest = kv.Key{"anc", "prod_test"}
)

func featureKey(k feature.Kind) kv.Key {
	return kv.Key{"feature", k.String()}
}

// Options configures a Device.
type Options struct {
	Role feature.Role

	// Peer is the link to the other bud. Nil runs the bud alone.
	Peer peer.Channel

	// Resource and Platform default to a shared chain.Sim.
	Resource chain.Resource
	Platform chain.Platform

	// Store defaults to kv.NewMemory().
	Store kv.Store

	// Clock defaults to the wall clock.
	Clock sched.Clock

	AncPath         pipeline.AncPath
	SettleDelay     time.Duration
	SidetoneDelay   time.Duration
	TuningUSBBundle bool

	// ApplyInCase lists the features whose commands take effect while the
	// bud is in its case. Others are stored and applied on removal.
	ApplyInCase map[feature.Kind]bool

	// InCase is the case state at startup.
	InCase bool

	Logger *slog.Logger
}

// Device is one earbud.
type Device struct {
	role    feature.Role
	loop    *sched.Loop
	orch    *pipeline.Orchestrator
	engines map[feature.Kind]*featsync.Engine
	peer    peer.Channel
	store   kv.Store
	sim     *chain.Sim
	log     *slog.Logger

	// Loop-owned.
	inCase    bool
	lastFatal error
}

// New assembles a device, restores persisted feature state and applies it.
func New(ctx context.Context, opts Options) (*Device, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	d := &Device{
		role:    opts.Role,
		peer:    opts.Peer,
		store:   opts.Store,
		engines: make(map[feature.Kind]*featsync.Engine, len(feature.Kinds)),
		inCase:  opts.InCase,
		log:     log.With("role", opts.Role.String()),
	}
	if d.store == nil {
		d.store = kv.NewMemory()
	}
	res, plat := opts.Resource, opts.Platform
	if res == nil || plat == nil {
		d.sim = chain.NewSim()
		if res == nil {
			res = d.sim
		}
		if plat == nil {
			plat = d.sim
		}
	}

	d.loop = sched.New(&sched.Options{Clock: opts.Clock, Logger: d.log})
	d.orch = pipeline.New(pipeline.Options{
		Loop:            d.loop,
		Resource:        res,
		Platform:        plat,
		Role:            opts.Role,
		AncPath:         opts.AncPath,
		SidetoneDelay:   opts.SidetoneDelay,
		TuningUSBBundle: opts.TuningUSBBundle,
		OnFatal:         d.onFatal,
		Logger:          d.log,
	})
	d.orch.Init()

	var sendPeer featsync.Peer
	if d.peer != nil {
		sendPeer = d.peer
	}
	for _, k := range feature.Kinds {
		kind := k
		e := featsync.New(featsync.Options{
			Kind:        kind,
			Peer:        sendPeer,
			Sink:        d.orch,
			Role:        d.Role,
			SettleDelay: opts.SettleDelay,
			ApplyInCase: opts.ApplyInCase[kind],
			OnChange:    func(s feature.State) { d.persist(kind, s) },
			Logger:      d.log,
		})
		var s feature.State
		switch err := kv.GetValue(ctx, d.store, featureKey(kind), &s); {
		case err == nil:
			e.Restore(s)
			d.log.Info("earbud: restored", "feature", kind, "state", s)
		case !errors.Is(err, kv.ErrNotFound):
			d.log.Warn("earbud: restore failed", "feature", kind, "err", err)
		}
		e.SetInCase(opts.InCase)
		d.engines[kind] = e
	}

	if d.peer != nil {
		for kind, e := range d.engines {
			d.peer.Register(peer.ChannelFor(kind), channelHandler{loop: d.loop, e: e})
		}
		d.peer.Observe(d.onConnection)
	}

	for _, k := range feature.Kinds {
		d.engines[k].Reapply()
	}
	return d, nil
}

// channelHandler moves peer callbacks onto the device loop.
type channelHandler struct {
	loop *sched.Loop
	e    *featsync.Engine
}

func (h channelHandler) OnMessage(data []byte) {
	h.loop.Post(func() { h.e.OnIncomingPeerPayload(data) })
}

func (h channelHandler) OnTxConfirm(status peer.Status) {
	h.loop.Post(func() { h.e.OnPeerTxConfirmation(status) })
}

func (d *Device) onConnection(connected, wasLinkLoss bool) {
	d.loop.Post(func() {
		d.log.Info("earbud: peer link", "connected", connected, "after_link_loss", wasLinkLoss)
		if !connected {
			return
		}
		for _, k := range feature.Kinds {
			d.engines[k].OnPeerConnectIndication(wasLinkLoss)
		}
	})
}

func (d *Device) onFatal(err error) {
	d.lastFatal = err
	d.log.Error("earbud: pipeline transition failed", "err", err)
	var hw *pipeline.HardwareError
	if !errors.As(err, &hw) || hw.Event == nil {
		return
	}
	if e, ok := d.engines[hw.Event.Feature]; ok {
		e.OnApplyFailed(*hw.Event, d.orch.FeatureState(hw.Event.Feature))
	}
}

func (d *Device) persist(k feature.Kind, s feature.State) {
	if err := kv.SetValue(context.Background(), d.store, featureKey(k), s); err != nil {
		d.log.Warn("earbud: persist failed", "feature", k, "err", err)
	}
}

// Role returns the bud's role.
func (d *Device) Role() feature.Role { return d.role }

// Loop returns the device loop.
func (d *Device) Loop() *sched.Loop { return d.loop }

// Engine returns the synchronization engine of k.
func (d *Device) Engine(k feature.Kind) *featsync.Engine { return d.engines[k] }

// Orchestrator returns the pipeline orchestrator.
func (d *Device) Orchestrator() *pipeline.Orchestrator { return d.orch }

// Sim returns the simulated DSP when the device was built without a
// Resource or Platform, or nil.
func (d *Device) Sim() *chain.Sim { return d.sim }

// Run drives the device loop until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	return d.loop.Run(ctx)
}

// Close releases the peer channel and the store.
func (d *Device) Close() error {
	var errs []error
	if d.peer != nil {
		errs = append(errs, d.peer.Close())
	}
	errs = append(errs, d.store.Close())
	return errors.Join(errs...)
}

func (d *Device) setInCase(in bool) {
	if d.inCase == in {
		return
	}
	d.inCase = in
	d.log.Info("earbud: case", "in_case", in)
	for _, k := range feature.Kinds {
		d.engines[k].SetInCase(in)
	}
}
