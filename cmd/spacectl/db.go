package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func spacesCmd(args []string) {
	fs := flag.NewFlagSet("spaces", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "agent data directory")
	dbPath := fs.String("db", "", "sqlite index path (optional; defaults to <data>/index.db)")
	policy := fs.String("policy", "", "filter: access policy (public|private|token|fee|both)")
	owner := fs.String("owner", "", "filter: owner wallet")
	mine := fs.Bool("mine", false, "only spaces rented by the agent identity")
	raw := fs.Bool("raw", false, "print the raw space JSON as mirrored from the wire")
	limit := fs.Int("limit", 0, "result limit (0 = all)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	cols := `id,name,owner_wallet,owner_username,access_policy,token_id,token_symbol,token_minimum,fee_amount,fee_symbol,rental_status,rent_due,mine,updated_at`
	if *raw {
		cols = `raw_json`
	}
	q := `SELECT ` + cols + ` FROM spaces`
	var (
		where []string
		qargs []any
	)
	if p := strings.TrimSpace(*policy); p != "" {
		where = append(where, "access_policy=?")
		qargs = append(qargs, p)
	}
	if o := strings.TrimSpace(*owner); o != "" {
		where = append(where, "owner_wallet=?")
		qargs = append(qargs, o)
	}
	if *mine {
		where = append(where, "mine=1")
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if *limit > 0 {
		q += " LIMIT ?"
		qargs = append(qargs, *limit)
	}

	rows, err := db.Query(q, qargs...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		if *raw {
			var rawJSON string
			if err := rows.Scan(&rawJSON); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			fmt.Println(rawJSON)
			continue
		}
		var r struct {
			ID            string  `json:"id"`
			Name          string  `json:"name,omitempty"`
			OwnerWallet   string  `json:"ownerWallet,omitempty"`
			OwnerUsername string  `json:"ownerUsername,omitempty"`
			AccessPolicy  string  `json:"accessPolicy"`
			TokenID       string  `json:"tokenId,omitempty"`
			TokenSymbol   string  `json:"tokenSymbol,omitempty"`
			TokenMinimum  float64 `json:"tokenMinimum,omitempty"`
			FeeAmount     float64 `json:"feeAmount,omitempty"`
			FeeSymbol     string  `json:"feeSymbol,omitempty"`
			RentalStatus  string  `json:"rentalStatus,omitempty"`
			RentDue       string  `json:"rentDue,omitempty"`
			Mine          bool    `json:"mine,omitempty"`
			UpdatedAt     string  `json:"updatedAt"`
		}
		var mineInt int
		if err := rows.Scan(
			&r.ID, &r.Name, &r.OwnerWallet, &r.OwnerUsername, &r.AccessPolicy,
			&r.TokenID, &r.TokenSymbol, &r.TokenMinimum,
			&r.FeeAmount, &r.FeeSymbol,
			&r.RentalStatus, &r.RentDue, &mineInt, &r.UpdatedAt,
		); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		r.Mine = mineInt != 0
		printJSON(r)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func listSnapshots(path string, limit int) {
	if limit <= 0 {
		limit = 20
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT path,spaces,mine,taken_at FROM snapshots ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Path    string `json:"path"`
			Spaces  int    `json:"spaces"`
			Mine    int    `json:"mine"`
			TakenAt string `json:"takenAt"`
		}
		if err := rows.Scan(&r.Path, &r.Spaces, &r.Mine, &r.TakenAt); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		printJSON(r)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}
