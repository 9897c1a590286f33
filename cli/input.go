// Package cli holds the presentation helpers for the interactive client:
// help text, peer listings and handshake blob printing.
package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"meshlink/mesh"
)

const (
	CmdHelp     = "/help"
	CmdOffer    = "/offer"
	CmdAccept   = "/accept"
	CmdAnswer   = "/answer"
	CmdCancel   = "/cancel"
	CmdPeers    = "/peers"
	CmdSend     = "/send"
	CmdClose    = "/close"
	CmdTopology = "/topology"
	CmdExit     = "/exit"
)

// ShowHelp prints the command reference.
func ShowHelp() {
	color.Magenta("Commands:")
	fmt.Println("  /offer                 - Create an offer and print it for the other side")
	fmt.Println("  /accept <blob>         - Accept a pasted offer, print the answer")
	fmt.Println("  /answer <blob>         - Apply a pasted answer to the pending offer")
	fmt.Println("  /cancel                - Discard the pending offer")
	fmt.Println("  /peers                 - List connected peers")
	fmt.Println("  /send <peer> <msg>     - Send a message to one peer")
	fmt.Println("  /close <peer>          - Close the connection to a peer")
	fmt.Println("  /topology              - Show the topology recommendation")
	fmt.Println("  /help                  - Show this help")
	fmt.Println("  /exit                  - Quit")
	fmt.Println("\nAnything else is broadcast to every connected peer.")
}

// PrintBlob prints an encoded handshake for the user to copy out-of-band.
func PrintBlob(kind, blob string) {
	color.Yellow("--- %s (copy the line below) ---", kind)
	fmt.Println(blob)
	color.Yellow("--- end %s ---", kind)
}

// PrintPeers lists the local identity and every connected peer.
func PrintPeers(self string, peers []string) {
	color.Cyan("You are %s", self)
	if len(peers) == 0 {
		fmt.Println("No connected peers.")
		return
	}
	for _, p := range peers {
		fmt.Println(" -", p)
	}
}

// PrintTopology renders a topology decision.
func PrintTopology(d mesh.TopologyDecision) {
	shape := "full mesh"
	if d.UsesHubSpoke {
		shape = "hub-spoke"
	}
	color.Cyan("Topology: %s", shape)
	fmt.Printf("  connections:     %d\n", d.ConnectionCount)
	fmt.Printf("  latency class:   %s\n", d.Latency)
	fmt.Printf("  resource impact: %s\n", d.ResourceImpact)
}

// SplitCommand separates the command word from the rest of the line.
func SplitCommand(line string) (cmd, rest string) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}
