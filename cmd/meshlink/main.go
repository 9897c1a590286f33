package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"meshlink/cli"
	"meshlink/mesh"
	"meshlink/transport"
)

func main() {
	var (
		stun      = flag.String("stun", "stun:stun.l.google.com:19302", "comma-separated STUN/TURN urls")
		mode      = flag.String("mode", string(mesh.ModeAuto), "topology mode: auto, full-mesh or hub-spoke")
		threshold = flag.Int("threshold", mesh.DefaultPeerThreshold, "auto-mode peer count before hub-spoke")
		gather    = flag.Duration("gather-timeout", mesh.DefaultGatherTimeout, "max wait for candidate gathering")
		loopback  = flag.Bool("loopback", false, "talk to an in-process echo peer instead of using WebRTC")
		debug     = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "meshlink needs an interactive terminal")
		os.Exit(1)
	}

	logger := newLogger(*debug)
	defer logger.Sync()

	var dialer transport.Dialer = transport.NewWebRTCDialer()
	var echoNet *transport.MemNetwork
	if *loopback {
		echoNet = transport.NewMemNetwork()
		dialer = echoNet.Dialer()
	}

	mgr, err := mesh.NewManager(mesh.Config{
		Dialer:        dialer,
		Relays:        []transport.RelayServer{{URLs: strings.Split(*stun, ",")}},
		GatherTimeout: *gather,
		TopologyMode:  mesh.TopologyMode(*mode),
		PeerThreshold: *threshold,
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "init:", err)
		os.Exit(1)
	}
	defer mgr.Shutdown()

	mgr.OnConnect(func(peerID string, _ mesh.ConnectionInfo) {
		color.Green(">> connected to %s", short(peerID))
	})
	mgr.OnDisconnect(func(peerID string) {
		color.Red("<< lost %s", short(peerID))
	})
	mgr.OnMessage(func(payload []byte, from string) {
		fmt.Printf("%s %s\n", color.CyanString("[%s]>", short(from)), payload)
	})

	completer := readline.NewPrefixCompleter(
		readline.PcItem(cli.CmdHelp),
		readline.PcItem(cli.CmdOffer),
		readline.PcItem(cli.CmdAccept),
		readline.PcItem(cli.CmdAnswer),
		readline.PcItem(cli.CmdCancel),
		readline.PcItem(cli.CmdPeers),
		readline.PcItem(cli.CmdTopology),
		readline.PcItem(cli.CmdSend, readline.PcItemDynamic(func(string) []string {
			return mgr.ConnectedPeers()
		})),
		readline.PcItem(cli.CmdClose, readline.PcItemDynamic(func(string) []string {
			return mgr.ConnectedPeers()
		})),
		readline.PcItem(cli.CmdExit),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.GreenString("%s> ", short(mgr.PeerID())),
		HistoryFile:     "/tmp/meshlink_history.log",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       cli.CmdExit,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline init:", err)
		os.Exit(1)
	}
	defer rl.Close()

	if *loopback {
		if err := startEchoPeer(echoNet, mgr, logger); err != nil {
			fmt.Fprintln(os.Stderr, "loopback:", err)
			os.Exit(1)
		}
		color.Green("loopback echo peer attached")
	}

	cli.ShowHelp()
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		cmd, rest := cli.SplitCommand(line)
		switch cmd {
		case "":
			continue

		case cli.CmdHelp:
			cli.ShowHelp()

		case cli.CmdExit:
			return

		case cli.CmdOffer:
			// The gathering wait inside CreateOffer is already bounded.
			_, blob, err := mgr.CreateOffer(context.Background())
			if err != nil {
				color.Red("offer: %v", err)
				continue
			}
			cli.PrintBlob("offer", blob)
			fmt.Println("Send the offer to the other side, then paste its answer with /answer.")

		case cli.CmdAccept:
			if rest == "" {
				color.Red("Usage: /accept <offer blob>")
				continue
			}
			_, blob, err := mgr.AcceptOffer(context.Background(), rest)
			if err != nil {
				color.Red("accept: %v", err)
				continue
			}
			cli.PrintBlob("answer", blob)
			fmt.Println("Send the answer back to the offer's creator.")

		case cli.CmdAnswer:
			if rest == "" {
				color.Red("Usage: /answer <answer blob>")
				continue
			}
			if err := mgr.AcceptAnswer(rest); err != nil {
				color.Red("answer: %v", err)
			}

		case cli.CmdCancel:
			mgr.CancelPendingOffer()

		case cli.CmdPeers:
			cli.PrintPeers(mgr.PeerID(), mgr.ConnectedPeers())

		case cli.CmdTopology:
			cli.PrintTopology(mgr.Topology())

		case cli.CmdClose:
			if rest == "" {
				color.Red("Usage: /close <peer>")
				continue
			}
			mgr.CloseConnection(rest)

		case cli.CmdSend:
			peer, msg := cli.SplitCommand(rest)
			if peer == "" || msg == "" {
				color.Red("Usage: /send <peer> <message>")
				continue
			}
			if !mgr.Send(peer, []byte(msg)) {
				color.Red("not delivered: %s is not connected", short(peer))
			}

		default:
			n := mgr.Broadcast([]byte(line))
			color.Green("sent to %d peer(s)", n)
		}
	}
}

// startEchoPeer links a second in-process manager that echoes every message
// back to its sender.
func startEchoPeer(net *transport.MemNetwork, mgr *mesh.Manager, logger *zap.Logger) error {
	echo, err := mesh.NewManager(mesh.Config{
		Dialer: net.Dialer(),
		Logger: logger.Named("echo"),
	})
	if err != nil {
		return err
	}
	echo.OnMessage(func(payload []byte, from string) {
		echo.Send(from, payload)
	})

	ctx := context.Background()
	_, offerText, err := mgr.CreateOffer(ctx)
	if err != nil {
		return err
	}
	_, answerText, err := echo.AcceptOffer(ctx, offerText)
	if err != nil {
		return err
	}
	return mgr.AcceptAnswer(answerText)
}

func short(peerID string) string {
	if len(peerID) > 8 {
		return peerID[:8]
	}
	return peerID
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
