// Command inspect dumps the message store as a table and optionally runs a
// full-text query against the Bluge index. Badger is opened read-only, but
// both stores are single-writer: stop the server first.
package main

import (
	"chat-relay/domain"
	"chat-relay/storage"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	indexPath := flag.String("index", "./data/bluge", "Path to bluge index")
	// Par défaut on cherche "msg:" pour éviter de percuter les index idx:
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	search := flag.String("search", "", "Full-text query against message content")
	conversation := flag.String("conversation", "", "Restrict search to one conversation")
	limit := flag.Int("limit", 20, "Max search hits")
	flag.Parse()

	if *search != "" {
		if err := runSearch(*indexPath, *search, *conversation, *limit); err != nil {
			log.Fatal(err)
		}
		return
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Conversation", "Sender", "Type", "Created", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()

			// Sécurité : on ignore explicitement les index secondaires
			if strings.HasPrefix(string(item.Key()), "idx:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				var message domain.Message
				if err := json.Unmarshal(v, &message); err != nil {
					// Au lieu de stopper tout le script, on log l'erreur et on continue
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}

				content := message.Content
				if content == "" {
					content = message.MediaURL
				}
				if len(content) > 60 {
					content = content[:60] + "…"
				}

				// On affiche les 8 premiers caractères des IDs pour la lisibilité
				table.Append([]string{
					string(item.Key()),
					short(message.ConversationID),
					short(message.SenderID),
					string(message.ContentType),
					message.CreatedAt.Format("15:04:05"),
					content,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func runSearch(indexPath, query, conversationID string, limit int) error {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(indexPath))
	if err != nil {
		return fmt.Errorf("index opening failed: %w", err)
	}
	defer writer.Close()

	index := storage.NewMessageIndex(writer, slog.Default())
	hits, err := index.Search(context.Background(), query, conversationID, limit)
	if err != nil {
		return err
	}

	color.Cyan.Printf("%d hit(s) for %q\n", len(hits), query)
	for _, hit := range hits {
		color.Green.Printf("  %s ", short(hit.MessageID))
		fmt.Printf("[conv %s, from %s] %s\n",
			short(hit.ConversationID), short(hit.SenderID), hit.Content)
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
