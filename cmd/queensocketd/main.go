// Command queensocketd runs the broker: a fabric.Socket message bus fronted
// by node.Node's TCP/Unix/WebSocket listeners, an accessstore-backed ACCESS
// key lookup, and an httpadmin operator surface.
//
// Grounded on cmd/relay-server/main.go's flag+os.Getenv+zerolog.ConsoleWriter
// setup and cmd/server.go's cobra rootCmd/signal.NotifyContext shutdown
// shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/socketfabric/broker/accessstore"
	"github.com/socketfabric/broker/aead"
	"github.com/socketfabric/broker/fabric"
	"github.com/socketfabric/broker/httpadmin"
	"github.com/socketfabric/broker/node"
)

var rootCmd = &cobra.Command{
	Use:   "queensocketd",
	Short: "Socket Fabric message broker: pub/sub and request/response over TCP, Unix, and WebSocket",
	RunE:  runServer,
}

var (
	flagListenTCP  string
	flagListenUnix string
	flagListenHTTP string
	flagAccessDir  string
	flagAEAD       []string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagListenTCP, "listen-tcp", envOr("QUEENSOCKETD_LISTEN_TCP", ":7890"), "TCP listen address (env: QUEENSOCKETD_LISTEN_TCP)")
	flags.StringVar(&flagListenUnix, "listen-unix", envOr("QUEENSOCKETD_LISTEN_UNIX", ""), "Unix-domain socket path, empty to disable (env: QUEENSOCKETD_LISTEN_UNIX)")
	flags.StringVar(&flagListenHTTP, "listen-http", envOr("QUEENSOCKETD_LISTEN_HTTP", ":7891"), "HTTP admin/WebSocket listen address (env: QUEENSOCKETD_LISTEN_HTTP)")
	flags.StringVar(&flagAccessDir, "access-store", envOr("QUEENSOCKETD_ACCESS_STORE", ""), "pebble directory holding ACCESS keys, empty disables AEAD auth (env: QUEENSOCKETD_ACCESS_STORE)")
	flags.StringSliceVar(&flagAEAD, "aead", []string{"chacha20poly1305", "aes256gcm", "aes128gcm"}, "AEAD methods accepted, in preference order")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("queensocketd: fatal")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socket := fabric.New(nil)
	socket.Run()
	defer socket.Stop()

	var access node.AccessLookup
	if flagAccessDir != "" {
		store, err := accessstore.Open(flagAccessDir)
		if err != nil {
			return err
		}
		defer store.Close()
		access = store.Lookup
		log.Info().Str("dir", flagAccessDir).Msg("queensocketd: access store opened")
	} else {
		log.Warn().Msg("queensocketd: no access store configured, AEAD handshakes will be rejected")
	}

	n := node.New(socket, access)
	if methods, err := parseMethods(flagAEAD); err == nil {
		n.Methods = methods
	} else {
		log.Warn().Err(err).Msg("queensocketd: ignoring invalid --aead, using defaults")
	}

	go func() {
		if err := n.ListenTCP(ctx, flagListenTCP); err != nil {
			log.Error().Err(err).Msg("queensocketd: tcp listener stopped")
			stop()
		}
	}()
	log.Info().Str("addr", flagListenTCP).Msg("queensocketd: listening (tcp)")

	if flagListenUnix != "" {
		go func() {
			if err := n.ListenUnix(ctx, flagListenUnix); err != nil {
				log.Error().Err(err).Msg("queensocketd: unix listener stopped")
				stop()
			}
		}()
		log.Info().Str("path", flagListenUnix).Msg("queensocketd: listening (unix)")
	}

	admin := httpadmin.New(socket, n.WSHandler())
	httpSrv := &http.Server{Addr: flagListenHTTP, Handler: admin.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("queensocketd: http admin server stopped")
			stop()
		}
	}()
	log.Info().Str("addr", flagListenHTTP).Msg("queensocketd: listening (http admin/ws)")

	<-ctx.Done()
	log.Info().Msg("queensocketd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("queensocketd: http admin shutdown error")
	}

	log.Info().Msg("queensocketd: shutdown complete")
	return nil
}

func parseMethods(names []string) ([]aead.Method, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]aead.Method, 0, len(names))
	for _, name := range names {
		m := aead.Method(name)
		if !m.Supported() {
			return nil, errUnsupportedMethod(name)
		}
		out = append(out, m)
	}
	return out, nil
}

type errUnsupportedMethod string

func (e errUnsupportedMethod) Error() string { return "unsupported aead method: " + string(e) }
