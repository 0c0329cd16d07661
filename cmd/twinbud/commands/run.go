package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/twinbud/pkg/cli"
	"github.com/haivivi/twinbud/pkg/earbud"
	"github.com/haivivi/twinbud/pkg/ipc"
	"github.com/haivivi/twinbud/pkg/kv"
	"github.com/haivivi/twinbud/pkg/peer"
)

// PeerPath is the HTTP path the peer link is served on.
const PeerPath = "/peer"

var (
	flagInCase   bool
	flagInMemory bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an earbud daemon",
	Long: `Run an earbud daemon for the selected context.

The primary bud serves the peer link on its listen address; the secondary
dials the primary's URL and redials after a link loss. Feature state is
kept in a badger store under the context's data directory.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&flagInCase, "in-case", false, "start with the bud in its case")
	runCmd.Flags().BoolVar(&flagInMemory, "in-memory", false, "do not persist feature state")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	bud, err := getContext()
	if err != nil {
		return fmt.Errorf("%w\nCreate one with:\n  twinbud config context set left --role=primary --listen=:7100", err)
	}
	settings, err := bud.DeviceSettings()
	if err != nil {
		return err
	}
	log := slog.Default().With("bud", bud.Name)

	store, err := openStore(bud, log)
	if err != nil {
		return err
	}
	id, err := deviceID(cmd.Context(), store)
	if err != nil {
		store.Close()
		return err
	}

	link := peer.NewLink(peer.LinkOptions{DeviceID: id, Logger: log})
	dev, err := earbud.New(cmd.Context(), earbud.Options{
		Role:            settings.Role,
		Peer:            link,
		Store:           store,
		AncPath:         settings.AncPath,
		SettleDelay:     settings.SettleDelay,
		SidetoneDelay:   settings.SidetoneDelay,
		TuningUSBBundle: settings.TuningUSBBundle,
		ApplyInCase:     settings.ApplyInCase,
		InCase:          flagInCase,
		Logger:          log,
	})
	if err != nil {
		store.Close()
		return err
	}
	defer dev.Close()

	sock := contextSocket(bud)
	ln, err := ipc.Listen(sock)
	if err != nil {
		return err
	}
	defer os.Remove(sock)

	var peerLn net.Listener
	if bud.Listen != "" {
		peerLn, err = net.Listen("tcp", bud.Listen)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen %s: %w", bud.Listen, err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(dev.Run(ctx)) })
	g.Go(func() error { return ipc.NewServer(dev, log).Serve(ctx, ln) })

	if peerLn != nil {
		mux := http.NewServeMux()
		mux.Handle(PeerPath, link)
		srv := &http.Server{Handler: mux}
		g.Go(func() error {
			<-ctx.Done()
			link.Close()
			return srv.Close()
		})
		g.Go(func() error {
			log.Info("twinbud: serving peer link", "addr", peerLn.Addr().String()+PeerPath)
			if err := srv.Serve(peerLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if bud.PeerURL != "" {
		g.Go(func() error {
			err := link.Dial(ctx, bud.PeerURL)
			if errors.Is(err, peer.ErrClosed) {
				return nil
			}
			return ignoreCanceled(err)
		})
	}

	log.Info("twinbud: running", "role", settings.Role, "id", id, "socket", sock)
	fmt.Printf("Earbud %q (%s) running, control socket %s\n", bud.Name, settings.Role, sock)
	fmt.Println("Press Ctrl+C to exit")
	return g.Wait()
}

func openStore(bud *cli.Context, log *slog.Logger) (kv.Store, error) {
	if flagInMemory {
		return kv.NewMemory(), nil
	}
	dir := bud.DataDir
	if dir == "" {
		paths, err := cli.NewPaths(appName)
		if err != nil {
			return nil, err
		}
		dir = paths.DataPath(bud.Name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: dir, Logger: log})
}

// deviceID returns the persisted device id, creating it on first run.
func deviceID(ctx context.Context, store kv.Store) (uuid.UUID, error) {
	key := kv.Key{"device", "id"}
	var s string
	err := kv.GetValue(ctx, store, key, &s)
	if err == nil {
		return uuid.Parse(s)
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return uuid.Nil, err
	}
	id := uuid.New()
	return id, kv.SetValue(ctx, store, key, id.String())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
