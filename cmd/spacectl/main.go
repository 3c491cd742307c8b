package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"pixelcove.gg/internal/persistence/journal"
	"pixelcove.gg/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "spaces":
			spacesCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "help", "-h", "-help", "--help":
			usage(os.Stdout)
			return
		}
	}
	usage(os.Stderr)
	os.Exit(2)
}

func usage(w *os.File) {
	fmt.Fprintln(w, `usage: spacectl <command> [flags]

commands:
  spaces    query the SQLite directory index
  journal   decode the zstd JSONL access journal
  snapshot  print a directory snapshot (or -list recorded ones)

run 'spacectl <command> -h' for flags`)
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "agent data directory")
	kind := fs.String("kind", "", "filter: entry kind (verdict|ejected|visit|settings|rent|identity)")
	spaceID := fs.String("space", "", "filter: space id")
	wallet := fs.String("wallet", "", "filter: wallet")
	since := fs.String("since", "", "filter: RFC3339 timestamp, entries at or after")
	limit := fs.Int("limit", 0, "stop after N matches (0 = all)")
	_ = fs.Parse(args)

	var sinceAt time.Time
	if s := strings.TrimSpace(*since); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
		sinceAt = t
	}

	dir := filepath.Join(*dataDir, "journal")
	ents, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "access-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	matched := 0
	for _, name := range names {
		if skipHourFile(name, sinceAt) {
			continue
		}
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(1)
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "zstd:", err)
			os.Exit(1)
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var e journal.Entry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				fmt.Fprintf(os.Stderr, "%s: unmarshal: %v\n", name, err)
				os.Exit(1)
			}
			if *kind != "" && e.Kind != *kind {
				continue
			}
			if *spaceID != "" && e.SpaceID != *spaceID {
				continue
			}
			if *wallet != "" && e.Wallet != *wallet {
				continue
			}
			if !sinceAt.IsZero() && e.At.Before(sinceAt) {
				continue
			}
			printJSON(e)
			matched++
			if *limit > 0 && matched >= *limit {
				dec.Close()
				_ = f.Close()
				return
			}
		}
		if err := sc.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "%s: scan: %v\n", name, err)
			os.Exit(1)
		}
		dec.Close()
		_ = f.Close()
	}
}

// skipHourFile prunes whole hour files that end before the -since cutoff,
// based on the timestamp in the file name.
func skipHourFile(name string, sinceAt time.Time) bool {
	if sinceAt.IsZero() {
		return false
	}
	hour := strings.TrimSuffix(strings.TrimPrefix(name, "access-"), ".jsonl.zst")
	t, err := time.Parse("2006-01-02-15", hour)
	if err != nil {
		return false
	}
	return !t.Add(time.Hour).After(sinceAt)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "agent data directory")
	snapPath := fs.String("path", "", "snapshot path (optional; defaults to latest)")
	full := fs.Bool("full", false, "decode the body and print each space")
	list := fs.Bool("list", false, "list snapshots recorded in the index db")
	dbPath := fs.String("db", "", "sqlite index path for -list (optional; defaults to <data>/index.db)")
	limit := fs.Int("limit", 20, "result limit for -list")
	_ = fs.Parse(args)

	if *list {
		path := strings.TrimSpace(*dbPath)
		if path == "" {
			path = filepath.Join(*dataDir, "index.db")
		}
		listSnapshots(path, *limit)
		return
	}

	p := strings.TrimSpace(*snapPath)
	if p == "" {
		latest, err := snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "scan snapshots:", err)
			os.Exit(1)
		}
		if latest == "" {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -path or run the agent until it writes one")
			os.Exit(2)
		}
		p = latest
	}

	if !*full {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		printJSON(struct {
			Path    string    `json:"path"`
			Version int       `json:"version"`
			Wallet  string    `json:"wallet,omitempty"`
			TakenAt time.Time `json:"takenAt"`
		}{p, h.Version, h.Wallet, h.TakenAt})
		return
	}

	snap, err := snapshot.ReadSnapshot(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(struct {
		Path    string    `json:"path"`
		Version int       `json:"version"`
		Wallet  string    `json:"wallet,omitempty"`
		TakenAt time.Time `json:"takenAt"`
		Spaces  int       `json:"spaces"`
		Mine    int       `json:"mine"`
	}{p, snap.Header.Version, snap.Header.Wallet, snap.Header.TakenAt, len(snap.Spaces), len(snap.MineIDs)})

	mine := make(map[string]bool, len(snap.MineIDs))
	for _, id := range snap.MineIDs {
		mine[id] = true
	}
	for _, sp := range snap.Spaces {
		r := struct {
			ID           string  `json:"id"`
			Name         string  `json:"name,omitempty"`
			Owner        string  `json:"owner,omitempty"`
			Policy       string  `json:"policy"`
			TokenSymbol  string  `json:"tokenSymbol,omitempty"`
			TokenMinimum float64 `json:"tokenMinimum,omitempty"`
			FeeAmount    float64 `json:"feeAmount,omitempty"`
			FeeSymbol    string  `json:"feeSymbol,omitempty"`
			RentalStatus string  `json:"rentalStatus,omitempty"`
			RentDue      string  `json:"rentDue,omitempty"`
			Mine         bool    `json:"mine,omitempty"`
		}{
			ID:           sp.ID,
			Name:         sp.Name,
			Owner:        sp.OwnerIdentity,
			Policy:       string(sp.AccessPolicy),
			RentalStatus: string(sp.RentalStatus),
			Mine:         mine[sp.ID],
		}
		if sp.TokenGate != nil {
			r.TokenSymbol = sp.TokenGate.TokenSymbol
			r.TokenMinimum = sp.TokenGate.MinimumBalance
		}
		if sp.EntryFee != nil {
			r.FeeAmount = sp.EntryFee.Amount
			r.FeeSymbol = sp.EntryFee.TokenSymbol
		}
		if sp.RentDueDate != nil {
			r.RentDue = sp.RentDueDate.UTC().Format(time.RFC3339)
		}
		printJSON(r)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
