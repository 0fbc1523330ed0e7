// Command lspbridge is the outer host wrapper: it loads the server
// configuration, wires the tool facade to an mcp-golang stdio server,
// preloads peers for the workspace, and owns the shutdown sequence.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metoro-io/mcp-golang"
	"github.com/metoro-io/mcp-golang/transport/stdio"
	"github.com/rockerboo/lspbridge/internal/facade"
	"github.com/rockerboo/lspbridge/internal/lspclient"
	"github.com/rockerboo/lspbridge/internal/routing"
	"github.com/rockerboo/lspbridge/internal/servermgr"
)

var debug = os.Getenv("LSPBRIDGE_DEBUG") != ""

func main() {
	var configPath, workspaceRoot string
	flag.StringVar(&configPath, "config", "", "Path to the server configuration JSON file (overridden by CCLSP_CONFIG_PATH)")
	flag.StringVar(&workspaceRoot, "workspace", ".", "Workspace root to scan when preloading servers")
	flag.Parse()

	cfg, err := routing.Load(configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	servers := servermgr.New(debug)
	client := lspclient.New(cfg, servers)
	tools := facade.New(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := client.PreloadServers(ctx, workspaceRoot, false); err != nil {
		log.Printf("preload warning: %v", err)
	}

	watcher, err := client.WatchNewFiles(workspaceRoot)
	if err != nil {
		log.Printf("watch warning: %v", err)
	} else {
		go watcher.Run(ctx)
		defer watcher.Close()
	}

	mcpServer := mcp_golang.NewServer(stdio.NewStdioServerTransport())
	if err := registerTools(mcpServer, tools, ctx); err != nil {
		log.Fatalf("tool registration failed: %v", err)
	}

	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Claude Desktop and similar hosts do not reliably kill child
	// processes for MCP servers on exit, so watch for parent death too.
	parentDeath := make(chan struct{})
	go monitorParent(done, parentDeath)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("received signal %v, shutting down", sig)
			cleanup(client, done)
		case <-parentDeath:
			log.Printf("parent process gone, shutting down")
			cleanup(client, done)
		}
	}()

	if err := mcpServer.Serve(); err != nil {
		log.Printf("server error: %v", err)
		cleanup(client, done)
		os.Exit(1)
	}

	<-done
	os.Exit(0)
}

func monitorParent(done, parentDeath chan struct{}) {
	ppid := os.Getppid()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			current := os.Getppid()
			if current != ppid && (current == 1 || ppid == 1) {
				close(parentDeath)
				return
			}
		case <-done:
			return
		}
	}
}

func cleanup(client *lspclient.Client, done chan struct{}) {
	client.Dispose()
	select {
	case <-done:
	default:
		close(done)
	}
}
