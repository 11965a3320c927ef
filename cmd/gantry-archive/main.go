// Command gantry-archive prunes finished deployment documents from a Gantry
// store file, optionally writing them to a JSON-lines archive first. The
// store uses an exclusive file lock, so stop the server (or point this at a
// copy) before running it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gantryhq/gantry/pkg/types"
)

var (
	storePath = flag.String("store", "/var/lib/gantry/deployments.db", "Deployment store file")
	olderThan = flag.Duration("older-than", 90*24*time.Hour, "Prune deployments that ended longer ago than this")
	archive   = flag.String("archive", "", "Write pruned documents to this JSON-lines file before deleting them")
	backup    = flag.String("backup", "", "Back the store up to this path first (default: <store>.backup)")
	dryRun    = flag.Bool("dry-run", false, "Report what would be pruned without changing the store")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("Gantry deployment store archiver")

	if _, err := os.Stat(*storePath); os.IsNotExist(err) {
		log.Fatalf("Store not found at %s", *storePath)
	}

	cutoff := time.Now().Add(-*olderThan)
	log.Printf("Store: %s", *storePath)
	log.Printf("Pruning deployments that ended before %s", cutoff.Format(time.RFC3339))
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backup
		if backupFile == "" {
			backupFile = *storePath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(*storePath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created")
	}

	// Timeout so a store still held by a running server errors instead of
	// blocking on the file lock
	db, err := bolt.Open(*storePath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	if err := prune(db, cutoff, *archive, *dryRun); err != nil {
		log.Fatalf("Pruning failed: %v", err)
	}
}

func prune(db *bolt.DB, cutoff time.Time, archivePath string, dryRun bool) error {
	bucketName := []byte("deployments")

	// First pass: find the candidates
	type candidate struct {
		key []byte
		doc []byte
	}
	var candidates []candidate
	var total int

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("no deployments bucket; is %s a Gantry store?", *storePath)
		}
		return b.ForEach(func(k, v []byte) error {
			total++
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				log.Printf("⚠ Skipping unreadable document %s: %v", k, err)
				return nil
			}
			if d.End == nil || d.End.After(cutoff) {
				return nil
			}
			candidates = append(candidates, candidate{
				key: append([]byte(nil), k...),
				doc: append([]byte(nil), v...),
			})
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Printf("Found %d of %d deployments to prune", len(candidates), total)
	if len(candidates) == 0 {
		log.Println("✓ Nothing to prune")
		return nil
	}

	if dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to prune.")
		return nil
	}

	if archivePath != "" {
		log.Printf("Archiving to %s", archivePath)
		f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open archive file: %w", err)
		}
		for _, c := range candidates {
			if _, err := f.Write(append(c.doc, '\n')); err != nil {
				f.Close()
				return fmt.Errorf("failed to write archive: %w", err)
			}
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close archive: %w", err)
		}
		log.Printf("✓ Archived %d documents", len(candidates))
	}

	var pruned int
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, c := range candidates {
			if err := b.Delete(c.key); err != nil {
				return fmt.Errorf("failed to delete %s: %w", c.key, err)
			}
			pruned++
			if pruned%100 == 0 {
				log.Printf("  Pruned %d/%d...", pruned, len(candidates))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("✓ Pruned %d deployments", pruned)
	return nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
