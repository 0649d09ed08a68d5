// Command btreeload is a small exerciser for the extent-store-backed
// B+tree: it loads int64 key/value pairs from stdin into a tree file and,
// with -dump, prints the tree back out in sorted order. It is not a query layer or a
// REPL; those are out of scope for this module.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"storagecore/pkg/btree"
	"storagecore/pkg/config"
)

func main() {
	dbPath := flag.String("db", "", "path to the tree file")
	create := flag.Bool("create", false, "create a new tree file instead of opening an existing one")
	extentSizeKB := flag.Uint("extent-kb", config.DefaultExtentSizeKB, "extent size in KiB, used only with -create")
	poolCapacity := flag.Int("pool", config.DefaultPoolCapacity, "buffer pool capacity in pages")
	dump := flag.Bool("dump", false, "print every entry in ascending key order after loading")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("btreeload: -db is required")
	}

	tree, err := openTree(*dbPath, *create, uint32(*extentSizeKB), *poolCapacity)
	if err != nil {
		log.Fatalf("btreeload: %s", err)
	}
	defer func() {
		if err := tree.Close(); err != nil {
			log.Printf("btreeload: close: %s", err)
		}
	}()

	if err := loadPairs(tree, os.Stdin); err != nil {
		log.Fatalf("btreeload: %s", err)
	}

	if *dump {
		if err := dumpTree(tree, os.Stdout); err != nil {
			log.Fatalf("btreeload: %s", err)
		}
	}
}

func openTree(path string, create bool, extentSizeKB uint32, poolCapacity int) (*btree.Tree[int64, int64], error) {
	if create {
		return btree.Create(path, extentSizeKB, poolCapacity, btree.Int64Codec, btree.Int64Codec)
	}
	return btree.Open[int64, int64](path, poolCapacity, btree.Int64Codec, btree.Int64Codec)
}

// loadPairs reads "key value" lines from r and inserts each as an entry,
// overwriting whatever value was previously stored for a repeated key.
func loadPairs(tree *btree.Tree[int64, int64], r *os.File) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var key, value int64
		if _, err := fmt.Sscanf(line, "%d %d", &key, &value); err != nil {
			return fmt.Errorf("parsing line %q: %w", line, err)
		}
		if err := tree.Insert(key, value); err != nil {
			return fmt.Errorf("inserting (%d, %d): %w", key, value, err)
		}
	}
	return scanner.Err()
}

// dumpTree walks the tree's leaf chain and prints every entry.
func dumpTree(tree *btree.Tree[int64, int64], w *os.File) error {
	cursor, err := tree.NewCursor()
	if err != nil {
		return err
	}
	defer cursor.Close()
	for cursor.HasNext() {
		key, value, err := cursor.Next()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d %d\n", key, value)
	}
	return nil
}
