// Command docctl is a small runnable demo of the document engine: it
// activates a client against an in-process reference transport, attaches
// a document, runs one scripted update through the proxy package, and
// prints the resulting JSON view and pending-change count. Grounded on
// luvjson/examples/crdtstorage/simple_example.go and
// manual_sync_example.go, which exist in the teacher repo for exactly
// this purpose: giving a reader a runnable end-to-end entry point into a
// library that is otherwise only reachable through unit tests.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"docengine/client"
	"docengine/crdt"
	"docengine/proxy"
	"docengine/sync"
	"docengine/transport/memory"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("docctl: build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("docctl: run failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := memory.NewServer()
	c := client.New(server, client.DefaultClientOptions()).WithLogger(logger)

	if err := c.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	defer c.Deactivate(context.Background())

	docOpts := client.DefaultDocumentOptions()
	docOpts.InitialMode = sync.ModeManual
	doc, err := c.Attach(ctx, "docctl-demo", docOpts)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	err = doc.Update("seed the demo document", func(tx *proxy.Transaction) error {
		root := tx.Root()
		if err := root.SetString("title", "docctl demo"); err != nil {
			return err
		}
		todos, err := root.SetArray("todos")
		if err != nil {
			return err
		}
		if err := todos.PushString("write the CRDT core"); err != nil {
			return err
		}
		if err := todos.PushString("wire up the sync engine"); err != nil {
			return err
		}
		counter, err := root.SetCounter("editCount", crdt.PrimitiveLong, 0)
		if err != nil {
			return err
		}
		return counter.Increase(1)
	})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	if err := c.Sync(ctx, "docctl-demo"); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	out, err := json.MarshalIndent(doc.RootValue(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal root: %w", err)
	}
	fmt.Println(string(out))
	fmt.Printf("pending changes after sync: %d\n", len(doc.PendingChanges()))

	if err := c.Detach(ctx, "docctl-demo"); err != nil {
		return fmt.Errorf("detach: %w", err)
	}
	return nil
}
