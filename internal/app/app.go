// Package app contains the top-level orchestration for the server, client
// and info subcommands.
package app

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/netip"
	"sort"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/1ureka/dprox/internal/config"
	"github.com/1ureka/dprox/internal/protocol"
)

// pickClientID returns the configured identity, or a random one in
// [config.MinClientID, config.MaxClientID) when none is set.
func pickClientID(configured int) protocol.NodeID {
	if configured != 0 {
		return protocol.NodeID(configured)
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(config.MaxClientID-config.MinClientID))
	return protocol.NodeID(config.MinClientID + n.Int64())
}

// snapshotRows lays a snapshot out as table rows ordered by identity.
func snapshotRows(s *protocol.Snapshot) pterm.TableData {
	ids := make([]int, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	rows := pterm.TableData{{"Node", "Address", ""}}
	for _, id := range ids {
		mark := ""
		if protocol.NodeID(id) == s.Self {
			mark = "(rendezvous)"
		}
		rows = append(rows, []string{strconv.Itoa(id), s.Nodes[protocol.NodeID(id)], mark})
	}
	return rows
}

// printSummary renders a two-column key/value box.
func printSummary(title string, rows [][2]string) {
	data := make(pterm.TableData, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{r[0], r[1]})
	}
	table, err := pterm.DefaultTable.WithData(data).Srender()
	if err != nil {
		return
	}
	pterm.Println()
	pterm.DefaultBox.WithTitle(title).Println(table)
	pterm.Println()
}

func hostPort(host string, port int) string {
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, uint16(port)).String()
	}
	return fmt.Sprintf("%s:%d", host, port)
}
