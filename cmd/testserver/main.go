// Command testserver runs a configurable channel server for load
// testing.
//
// Usage:
//
//	testserver [flags]
//
// Flags:
//
//	-port    Port to listen on (default: 8080)
//	-host    Host to bind to (default: localhost)
//	-echo    Channel answered with an echo of the incoming data (default: echo)
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sockdrill/testserver"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	host := flag.String("host", "localhost", "host to bind to")
	echo := flag.String("echo", "echo", "channel answered with an echo of the incoming data")
	flag.Parse()

	server := testserver.NewServer(
		testserver.Rule{Channel: *echo},
		testserver.Rule{
			Channel: "chat message",
			Reply:   "message ack",
			Data:    map[string]any{"status": "ok"},
		},
	)
	addr := fmt.Sprintf("%s:%d", *host, *port)

	fmt.Println("Sockdrill Test Server")
	fmt.Println("=====================")
	fmt.Printf("Listening on http://%s\n\n", addr)
	fmt.Println("Channel sessions on any path (the namespace), for example ws://" + addr + "/")
	fmt.Printf("  %-22s - echoed back on the same channel\n", *echo)
	fmt.Println("  chat message           - answered on 'message ack'")
	fmt.Println()
	fmt.Println("HTTP endpoints:")
	fmt.Println("  GET  /health           - Health check")
	fmt.Println("  POST /auth/login       - Issue a test token")
	fmt.Println("  POST /echo             - Echo request body")
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		os.Exit(0)
	}()

	log.Fatal(http.ListenAndServe(addr, server.Handler()))
}
