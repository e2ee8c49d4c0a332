// Command dmengine-demo wires a relay pool, a local signer and a Blossom
// blob host into an Engine, bootstraps it, subscribes to state changes and
// prints each conversation's last message. It is a runnable demonstration
// of the wiring described in the root package's doc comment, not a chat
// client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pinpox/dmengine"
	"github.com/pinpox/dmengine/internal/model"
)

func main() {
	configFlag := flag.String("config", "", "path to config file")
	debugFlag := flag.Bool("debug", false, "enable debug logging to debug.log")
	flag.Parse()

	if *debugFlag {
		f, err := dmengine.EnableFileLogging("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not open debug log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
	}

	cfg, err := dmengine.LoadRuntimeConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	privkey, err := dmengine.LoadPrivateKey(cfg.PrivateKeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key error: %v\n", err)
		os.Exit(1)
	}

	signer, err := dmengine.NewLocalSigner(privkey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signer error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := dmengine.NewGoNostrPool(ctx)
	blobHost := dmengine.NewBlossomBlobHost([]string{"https://blossom.primal.net"}, signer)

	engine, err := dmengine.NewEngine(ctx, cfg, pool, signer, blobHost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine error: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	unsubscribe := engine.SubscribeState(func(state model.MessagingState) {
		fmt.Printf("state updated: %d conversations\n", len(state.ConversationMetadata))
	})
	defer unsubscribe()

	fmt.Println("bootstrapping...")
	if err := engine.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap error: %v\n", err)
		os.Exit(1)
	}

	state := engine.GetState()
	fmt.Printf("loaded %d conversations\n", len(state.ConversationMetadata))
	for id, conv := range state.ConversationMetadata {
		fmt.Printf("  %s: %s\n", id, conv.LastMessage.Snippet)
	}

	engine.StartRealtime(ctx)
	fmt.Println("listening for new messages, press ctrl-c to stop")

	<-ctx.Done()
	fmt.Println("shutting down")
}
